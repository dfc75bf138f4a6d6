package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"flowgen/internal/driver"
)

const (
	defaultBaseURL      = "https://labs.google"
	defaultWorkspaceURL = "https://labs.google/fx/tools/flow"
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultNavTimeout   = 30 * time.Second
	defaultWindowWidth  = 1280
	defaultWindowHeight = 720
)

// Config describes how sessions reach the generation site.
type Config struct {
	BaseURL       string
	WorkspaceURL  string
	UserAgent     string
	NavTimeout    time.Duration
	WindowWidth   int
	WindowHeight  int
	SubmitRetries int
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.WorkspaceURL) == "" {
		c.WorkspaceURL = defaultWorkspaceURL
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = defaultNavTimeout
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = defaultWindowWidth
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = defaultWindowHeight
	}
	if c.SubmitRetries <= 0 {
		c.SubmitRetries = 3
	}
	return c
}

// Session drives one Chrome instance through the generation flow. One session
// serves exactly one run; Close kills the whole browser.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// Launcher binds cfg into the launch function the driver consumes.
func Launcher(cfg Config, logger zerolog.Logger) driver.LaunchFunc {
	return func(ctx context.Context, opts driver.LaunchOptions) (driver.Automator, error) {
		return Launch(ctx, cfg, opts.Headless, logger)
	}
}

// Launch starts a fresh Chrome under ctx. The process dies with ctx or with
// Close, whichever comes first.
func Launch(ctx context.Context, cfg Config, headless bool, logger zerolog.Logger) (*Session, error) {
	cfg = cfg.withDefaults()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// An empty Run materializes the browser process, so launch failures
	// surface here instead of on the first navigation.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("browser: launch chrome: %w", err)
	}

	logger.Debug().Bool("headless", headless).Msg("browser: chrome started")

	return &Session{
		cfg:           cfg,
		logger:        logger,
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

// Close shuts the browser down gracefully and releases every resource tied to
// the session. Safe to call after the parent context died.
func (s *Session) Close(ctx context.Context) error {
	err := chromedp.Cancel(s.ctx)
	s.cancelBrowser()
	s.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browser: close: %w", err)
	}
	s.logger.Debug().Msg("browser: chrome stopped")
	return nil
}

// run executes chromedp actions against the session's browser, bounded by
// timeout and abandoned early if the caller's ctx dies.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

var _ driver.Automator = (*Session)(nil)
