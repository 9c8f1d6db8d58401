package chrome

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/goguide/internal/log"
	"github.com/jakopako/goguide/internal/loop"
	"github.com/jakopako/goguide/internal/utils"
)

// Config configures the browser a guide is played in.
type Config struct {
	// RemoteURL is the devtools websocket url of a running browser. When
	// empty a new browser is launched.
	RemoteURL string `yaml:"remote_url" env:"GOGUIDE_BROWSER_REMOTE_URL"`
	Headless  bool   `yaml:"headless" env:"GOGUIDE_BROWSER_HEADLESS" env-default:"false"`
	UserAgent string `yaml:"user_agent" env:"GOGUIDE_BROWSER_USER_AGENT"`
	Width     int    `yaml:"width" env-default:"1920"`
	Height    int    `yaml:"height" env-default:"1080"`
	// PageLoadWaitMS is how long to wait after the first navigation before
	// the page runtime is installed.
	PageLoadWaitMS int `yaml:"page_load_wait_ms" env-default:"0"`
	// DebugDir receives screenshots taken in debug mode.
	DebugDir string `yaml:"debug_dir" env-default:"."`
}

// Tab is a browser tab with the page runtime installed.
type Tab struct {
	cfg         Config
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	doc         *Document
}

// Open starts or attaches to a browser, opens a tab on startURL and installs
// the page runtime. Callbacks of the returned document run on sched.
func Open(ctx context.Context, cfg Config, sched loop.Scheduler, startURL string) (*Tab, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("component", "chrome"))
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if cfg.RemoteURL != "" {
		logger.Debug(fmt.Sprintf("attaching to browser at %s", cfg.RemoteURL))
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	} else {
		opts := append(
			chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(cfg.Width, cfg.Height),
		)
		if !cfg.Headless {
			// the user plays the guide, so the window has to be visible
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	t := &Tab{cfg: cfg, ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	actions := []chromedp.Action{}
	if log.Debug {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, revision, userAgent, jsVersion, err := browser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, revision=%s, userAgent=%s, jsVersion=%s",
				protocolVersion, product, revision, userAgent, jsVersion))
			return nil
		}))
	}
	actions = append(actions, chromedp.Navigate(startURL))
	if cfg.PageLoadWaitMS > 0 {
		actions = append(actions, chromedp.Sleep(time.Duration(cfg.PageLoadWaitMS)*time.Millisecond))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		t.Close()
		return nil, fmt.Errorf("error while opening %s: %w", startURL, err)
	}

	t.doc = newDocument(tabCtx, sched, startURL)
	if err := t.doc.install(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tab) Document() *Document { return t.doc }
func (t *Tab) Renderer() *Renderer { return &Renderer{d: t.doc} }
func (t *Tab) Flag() *Flag         { return &Flag{d: t.doc} }

// Done is closed when the tab or the browser went away.
func (t *Tab) Done() <-chan struct{} { return t.ctx.Done() }

// Navigate loads url in the tab.
func (t *Tab) Navigate(url string) error {
	return chromedp.Run(t.ctx, chromedp.Navigate(url))
}

// Screenshot writes a png of the viewport to the debug directory and returns
// its path.
func (t *Tab) Screenshot() (string, error) {
	if err := os.MkdirAll(t.cfg.DebugDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create debug directory: %v", err)
	}
	u, _ := url.Parse(t.doc.URL())
	host := "page"
	if u != nil && u.Host != "" {
		host = u.Host
	}
	name, err := utils.RandomString(host)
	if err != nil {
		return "", err
	}
	var buf []byte
	if err := chromedp.Run(t.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", err
	}
	filename := filepath.Join(t.cfg.DebugDir, name+".png")
	return filename, os.WriteFile(filename, buf, 0644)
}

func (t *Tab) Close() {
	t.cancelTab()
	t.cancelAlloc()
}
