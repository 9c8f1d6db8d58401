package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/goguide/internal/chrome"
	"github.com/jakopako/goguide/internal/config"
	"github.com/jakopako/goguide/internal/execution"
	"github.com/jakopako/goguide/internal/flow"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/overlay"
	"github.com/jakopako/goguide/internal/prompt"
	"github.com/jakopako/goguide/internal/remote"
	"github.com/jakopako/goguide/internal/resolver"
	"github.com/jakopako/goguide/internal/sequencer"
	"github.com/jakopako/goguide/internal/state"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PlayCmd struct {
	Flow   string `short:"f" help:"The flow definition (yaml or json)." required:"" type:"existingfile"`
	URL    string `short:"u" long:"url" help:"The page to open. Defaults to the url of the first step."`
	Config string `short:"c" help:"The location of the configuration file. Defaults to ./goguide.yaml if it exists."`
	TUI    bool   `short:"t" long:"tui" help:"Answer notices in an interactive terminal ui instead of the log."`
}

func (pc *PlayCmd) Run() error {
	cfg, err := readConfig(pc.Config)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	f, err := flow.Load(pc.Flow)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	startURL := pc.URL
	if startURL == "" {
		startURL = f.Steps[0].URL
	}
	if startURL == "" {
		err := fmt.Errorf("flow %s: the first step has no url, use --url", f.ID)
		slog.Error(err.Error())
		return err
	}

	// interrupted is cancelled on ctrl-c. ctx lives until the guide is
	// wound down so stopping it can still reach the browser.
	interrupted, interrupt := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer interrupt()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveMetrics(cfg.Metrics)

	lp := loop.New()
	go lp.Run(ctx)

	var seq *sequencer.Sequencer
	choose := func(c sequencer.Choice) {
		lp.Post(func() {
			if err := seq.Choose(ctx, c); err != nil {
				slog.Warn(fmt.Sprintf("%s: %v", c, err))
			}
		})
	}

	finished := make(chan struct{})
	var finishOnce sync.Once
	notifier := &playNotifier{
		Notifier: sequencer.LogNotifier{},
		done:     func() { finishOnce.Do(func() { close(finished) }) },
	}
	var p *prompt.Prompt
	if pc.TUI {
		p = prompt.New(choose, interrupt)
		notifier.Notifier = p
		log.InitializeLogger(p)
		defer func() {
			p.Stop()
			log.InitializeDefaultLogger()
		}()
	}
	ctx = log.ContextWithLogger(ctx, slog.Default().With(slog.String("flow", f.ID)))
	if p != nil {
		go func() {
			if err := p.Run(); err != nil {
				slog.Error(fmt.Sprintf("terminal ui: %v", err))
			}
			interrupt()
		}()
	}

	tab, err := chrome.Open(ctx, cfg.Browser, lp, startURL)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer tab.Close()
	notifier.tab = tab

	kv, err := state.NewKV(ctx, &cfg.State)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	store := state.NewStore(kv, nil)
	defer store.Close()

	rem, err := remote.NewRemote(&cfg.Remote)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	defer rem.Close()
	tracker := execution.New(rem, cfg.Tracker)

	seq = sequencer.New(sequencer.Deps{
		Doc:      tab.Document(),
		Resolver: resolver.New(),
		Overlays: overlay.NewManager(tab.Document(), tab.Renderer(), lp, cfg.Overlay),
		Store:    store,
		Flag:     tab.Flag(),
		Tracker:  tracker,
		Notifier: notifier,
		Session: remote.SessionContext{
			SessionID: uuid.NewString(),
			URL:       startURL,
			UserAgent: cfg.Browser.UserAgent,
		},
	})

	var startErr error
	if err := lp.Do(ctx, func() {
		restored, err := seq.Restore(ctx, f)
		if err != nil {
			slog.Warn(fmt.Sprintf("%v", err))
		}
		if !restored {
			startErr = seq.Start(ctx, f)
		}
	}); err != nil {
		return err
	}
	if startErr != nil {
		slog.Error(fmt.Sprintf("%v", startErr))
		return startErr
	}

	select {
	case <-finished:
	case <-interrupted.Done():
		slog.Info("stopping the guide")
		err := lp.Do(ctx, func() {
			if err := seq.Stop(ctx, execution.ReasonUserInitiated); err != nil && !errors.Is(err, sequencer.ErrNotActive) {
				slog.Warn(fmt.Sprintf("%v", err))
			}
		})
		if err != nil {
			slog.Warn(fmt.Sprintf("error while stopping the guide: %v", err))
		}
	case <-tab.Done():
		// the record stays, but the next play opens a tab without the session
		// flag and starts the flow over
		slog.Info("the browser tab was closed")
		if err := tracker.ReportAbandonment(ctx, execution.ReasonNavigation, "tab closed"); err != nil {
			slog.Warn(fmt.Sprintf("%v", err))
		}
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
	defer cancelWait()
	if err := tracker.Wait(waitCtx); err != nil {
		slog.Warn(fmt.Sprintf("not all progress was reported: %v", err))
	}
	return tracker.Close()
}

// playNotifier forwards notices and ends the play command once the guide is
// over. In debug mode a screenshot is stored for every target that was not
// found.
type playNotifier struct {
	sequencer.Notifier
	tab  *chrome.Tab
	done func()
}

func (n *playNotifier) Notify(no sequencer.Notice) {
	n.Notifier.Notify(no)
	switch no.Kind {
	case sequencer.NoticeCompleted, sequencer.NoticeStopped:
		n.done()
	case sequencer.NoticeResolutionFailure:
		if log.Debug {
			go func() {
				filename, err := n.tab.Screenshot()
				if err != nil {
					slog.Debug(fmt.Sprintf("error while taking a screenshot: %v", err))
					return
				}
				slog.Debug(fmt.Sprintf("stored a screenshot of step %s in %s", no.Step.ID, filename))
			}()
		}
	}
}

func serveMetrics(c config.MetricsConfig) {
	if c.Addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(c.Path, promhttp.Handler())
	go func() {
		slog.Info(fmt.Sprintf("serving metrics on %s%s", c.Addr, c.Path))
		if err := http.ListenAndServe(c.Addr, mux); err != nil {
			slog.Error(fmt.Sprintf("metrics endpoint: %v", err))
		}
	}()
}
