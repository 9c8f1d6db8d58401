/*
goguide plays interactive walkthroughs in a browser tab.

A flow is a list of steps, each pointing at an element of a page. goguide
highlights the element of the current step, waits for the user to interact
with it and moves on to the next step, across page loads and restarts.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/jakopako/goguide/internal/check"
	"github.com/jakopako/goguide/internal/config"
	"github.com/jakopako/goguide/internal/fetch"
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/resolver"
	"github.com/jakopako/goguide/internal/state"
	"github.com/olekukonko/tablewriter"
)

var version = "dev"

const defaultConfig = "./goguide.yaml"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store additional helpful debugging data."`

	Play   PlayCmd   `cmd:"" help:"Play a flow in a browser tab"`
	Check  CheckCmd  `cmd:"" help:"Resolve the steps of a flow against fetched copies of its pages"`
	Status StatusCmd `cmd:"" help:"List the persisted progress of all flows"`
	Reset  ResetCmd  `cmd:"" help:"Delete persisted progress"`
	Env    EnvCmd    `cmd:"" help:"Print the environment variables that goguide reads"`
}

// readConfig reads the file at path, or the default file if path is empty.
// Only an explicitly given file has to exist.
func readConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(defaultConfig, false)
	}
	return config.NewConfig(path, true)
}

type CheckCmd struct {
	Flow    string `short:"f" help:"The flow definition (yaml or json)." required:"" type:"existingfile"`
	BaseURL string `short:"b" long:"base-url" help:"The url used for steps without url and to resolve relative ones."`
	Config  string `short:"c" help:"The location of the configuration file. Defaults to ./goguide.yaml if it exists."`
}

func (cc *CheckCmd) Run() error {
	cfg, err := readConfig(cc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	f, err := flow.Load(cc.Flow)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	fetcher, err := fetch.NewFetcher(&cfg.Fetcher)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer fetcher.Cancel()

	checker := &check.Checker{
		Fetcher:  fetcher,
		Resolver: resolver.New(),
		BaseURL:  cc.BaseURL,
	}
	results, err := checker.Check(context.Background(), f)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	if err := check.WriteTable(os.Stdout, results); err != nil {
		return err
	}
	if n := check.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d steps of flow %s would not be found", n, len(results), f.ID)
	}
	slog.Info(fmt.Sprintf("all %d steps of flow %s were found", len(results), f.ID))
	return nil
}

type StatusCmd struct {
	Config string `short:"c" help:"The location of the configuration file. Defaults to ./goguide.yaml if it exists."`
}

func (sc *StatusCmd) Run() error {
	store, err := openStore(sc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer store.Close()

	ctx := context.Background()
	states, err := store.List(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	active, hasActive, err := store.Active(ctx)
	if err != nil {
		slog.Warn(fmt.Sprintf("error while reading the active state: %v", err))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Flow", "Active", "Playing", "Position", "Completed", "Saved")
	for _, st := range states {
		completed := make([]string, len(st.CompletedSteps))
		for i, p := range st.CompletedSteps {
			completed[i] = strconv.Itoa(p)
		}
		row := []string{
			st.RecordingID,
			strconv.FormatBool(hasActive && active.RecordingID == st.RecordingID),
			strconv.FormatBool(st.IsPlaying),
			strconv.Itoa(st.CurrentPosition),
			strings.Join(completed, ","),
			st.SavedAt().Format("2006-01-02 15:04:05"),
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

type ResetCmd struct {
	Flow   string `short:"f" help:"The id of the flow whose progress should be deleted." xor:"target" required:""`
	All    bool   `short:"a" help:"Delete the progress of all flows." xor:"target" required:""`
	Config string `short:"c" help:"The location of the configuration file. Defaults to ./goguide.yaml if it exists."`
}

func (rc *ResetCmd) Run() error {
	store, err := openStore(rc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer store.Close()

	ctx := context.Background()
	ids := []string{rc.Flow}
	if rc.All {
		states, err := store.List(ctx)
		if err != nil {
			slog.Error(fmt.Sprintf("%v", err))
			return err
		}
		ids = ids[:0]
		for _, st := range states {
			ids = append(ids, st.RecordingID)
		}
	}
	var errs []error
	for _, id := range ids {
		if err := store.Clear(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		slog.Info(fmt.Sprintf("deleted the progress of flow %s", id))
	}
	return errors.Join(errs...)
}

func openStore(path string) (*state.Store, error) {
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	kv, err := state.NewKV(context.Background(), &cfg.State)
	if err != nil {
		return nil, err
	}
	return state.NewStore(kv, nil), nil
}

type EnvCmd struct{}

func (ec *EnvCmd) Run() error {
	usage, err := config.Usage()
	if err != nil {
		return err
	}
	fmt.Println(usage)
	return nil
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	log.InitializeDefaultLogger()

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
