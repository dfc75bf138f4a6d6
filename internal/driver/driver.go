package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flowgen/internal/artifact"
	"flowgen/internal/credentials"
	"flowgen/internal/domain"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultWaitBudget   = 5 * time.Minute
	defaultSettleDelay  = 3 * time.Second
)

// Observation is one look at the remote generation UI.
type Observation struct {
	// Ready means the page shows finished videos.
	Ready bool
	// Percent is the on-page completion counter ("47%"), empty when the page
	// renders no readable counter. Absence is not an error.
	Percent string
}

// Output is one generated artifact as exposed by the page.
type Output struct {
	URL string
}

// Automator is the narrow surface the pipeline needs from a launched browser
// environment. The chromedp implementation lives in internal/browser; tests
// script a fake.
type Automator interface {
	Authenticate(ctx context.Context, bundle credentials.Bundle) error
	SubmitPrompt(ctx context.Context, prompt string) error
	Observe(ctx context.Context) (Observation, error)
	Outputs(ctx context.Context) ([]Output, error)
	Close(ctx context.Context) error
}

// LaunchOptions selects how the browser environment starts.
type LaunchOptions struct {
	Headless bool
}

// LaunchFunc starts a fresh, isolated environment for one run.
type LaunchFunc func(ctx context.Context, opts LaunchOptions) (Automator, error)

// Config tunes the pipeline. Zero values fall back to the defaults above;
// Now and Sleep exist so tests can drive the poll loop without real time.
type Config struct {
	PollInterval time.Duration
	WaitBudget   time.Duration
	SettleDelay  time.Duration
	HTTPClient   *http.Client
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// RunRequest describes one generation run.
type RunRequest struct {
	JobID    string
	Prompt   string
	Headless bool
	// Bundle overrides the store's active bundle for this run only.
	Bundle credentials.Bundle
	// Progress receives human-readable stage updates. Optional.
	Progress func(msg string)
}

// Driver executes the automation pipeline for one job at a time: acquire
// session, launch environment, authenticate, submit, poll, harvest. Every run
// gets a fresh environment and tears it down exactly once, whatever happens.
type Driver struct {
	launch LaunchFunc
	creds  *credentials.Store
	store  artifact.Store
	client *http.Client
	logger zerolog.Logger

	pollInterval time.Duration
	waitBudget   time.Duration
	settleDelay  time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func New(launch LaunchFunc, creds *credentials.Store, store artifact.Store, logger zerolog.Logger, cfg Config) (*Driver, error) {
	if launch == nil {
		return nil, errors.New("driver: launch func is required")
	}
	if creds == nil {
		return nil, errors.New("driver: credential store is required")
	}
	if store == nil {
		return nil, errors.New("driver: artifact store is required")
	}

	d := &Driver{
		launch:       launch,
		creds:        creds,
		store:        store,
		client:       cfg.HTTPClient,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		waitBudget:   cfg.WaitBudget,
		settleDelay:  cfg.SettleDelay,
		now:          cfg.Now,
		sleep:        cfg.Sleep,
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 5 * time.Minute}
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.waitBudget <= 0 {
		d.waitBudget = defaultWaitBudget
	}
	if d.settleDelay < 0 {
		d.settleDelay = defaultSettleDelay
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.sleep == nil {
		d.sleep = sleepCtx
	}
	return d, nil
}

// Run executes the pipeline once. The returned filenames are resolvable
// through the artifact store under the job's key prefix; on failure the error
// is a *domain.StageError naming the stage that broke. Panics inside the
// pipeline are converted to stage errors so a bad run never takes down the
// process.
func (d *Driver) Run(ctx context.Context, req RunRequest) (results []string, err error) {
	report := req.Progress
	if report == nil {
		report = func(string) {}
	}

	stage := domain.StageCredentials
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = domain.NewStageError(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	d.logger.Info().Str("job_id", req.JobID).Bool("headless", req.Headless).Msg("driver: starting run")

	// Stage 1: acquire session credentials.
	report("loading session credentials")
	bundle := req.Bundle
	if len(bundle) == 0 {
		if bundle, err = d.creds.Active(); err != nil {
			return nil, domain.NewStageError(domain.StageCredentials, err)
		}
	} else {
		if bundle = credentials.Normalize(bundle); len(bundle) == 0 {
			return nil, domain.NewStageError(domain.StageCredentials, errors.New("credential override has no usable cookies"))
		}
	}

	// Stage 2: launch an isolated browser environment.
	stage = domain.StageEnvironment
	report("launching browser environment")
	sess, err := d.launch(ctx, LaunchOptions{Headless: req.Headless})
	if err != nil {
		return nil, domain.NewStageError(domain.StageEnvironment, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil {
			d.logger.Warn().Err(cerr).Str("job_id", req.JobID).Msg("driver: close environment")
		}
	}()

	// Stage 3: authenticate the session.
	stage = domain.StageAuthenticate
	report("authenticating with session cookies")
	if err := sess.Authenticate(ctx, bundle); err != nil {
		return nil, domain.NewStageError(domain.StageAuthenticate, err)
	}

	// Stage 4: submit the prompt.
	stage = domain.StageSubmit
	report("submitting prompt to the generation workspace")
	if err := sess.SubmitPrompt(ctx, req.Prompt); err != nil {
		return nil, domain.NewStageError(domain.StageSubmit, err)
	}

	// Stage 5: poll until the page reports done or the budget runs out.
	stage = domain.StagePoll
	if err := d.waitForOutputs(ctx, sess, report); err != nil {
		return nil, domain.NewStageError(domain.StagePoll, err)
	}

	// Stage 6: harvest.
	stage = domain.StageHarvest
	report("downloading generated videos")
	results, err = d.harvest(ctx, sess, req.JobID)
	if err != nil {
		return nil, domain.NewStageError(domain.StageHarvest, err)
	}

	d.logger.Info().Str("job_id", req.JobID).Int("videos", len(results)).Msg("driver: run finished")
	return results, nil
}

// waitForOutputs is the bounded poll loop. Unreadable observations are
// tolerated; only an exhausted budget or a dead context fails the stage.
func (d *Driver) waitForOutputs(ctx context.Context, sess Automator, report func(string)) error {
	start := d.now()
	deadline := start.Add(d.waitBudget)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		obs, err := sess.Observe(ctx)
		if err != nil {
			d.logger.Debug().Err(err).Msg("driver: observation failed")
		} else if obs.Ready {
			if d.settleDelay > 0 {
				if err := d.sleep(ctx, d.settleDelay); err != nil {
					return err
				}
			}
			return nil
		} else {
			elapsed := d.now().Sub(start).Round(time.Second)
			if obs.Percent != "" {
				report(fmt.Sprintf("generating video: %s (%s elapsed)", obs.Percent, elapsed))
			} else {
				report(fmt.Sprintf("generating video (%s elapsed)", elapsed))
			}
		}

		if d.now().After(deadline) {
			return fmt.Errorf("generation did not finish within %s", d.waitBudget)
		}
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			return err
		}
	}
}

func (d *Driver) harvest(ctx context.Context, sess Automator, jobID string) ([]string, error) {
	outs, err := sess.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, errors.New("no generated videos found on the page")
	}

	filenames := make([]string, len(outs))
	g, gctx := errgroup.WithContext(ctx)
	for i, out := range outs {
		i, out := i, out
		g.Go(func() error {
			name := artifact.VideoFilename(i + 1)
			if err := d.download(gctx, out.URL, artifact.JobKey(jobID, name)); err != nil {
				return fmt.Errorf("video %d: %w", i+1, err)
			}
			filenames[i] = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Success is all-or-nothing; drop whatever made it to the store.
		d.discard(jobID, filenames)
		return nil, err
	}
	return filenames, nil
}

func (d *Driver) download(ctx context.Context, url, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		contentType = "video/mp4"
	}
	if _, err := d.store.Save(ctx, key, resp.Body, contentType); err != nil {
		return err
	}
	return nil
}

func (d *Driver) discard(jobID string, filenames []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, name := range filenames {
		if name == "" {
			continue
		}
		if err := d.store.Remove(ctx, artifact.JobKey(jobID, name)); err != nil {
			d.logger.Warn().Err(err).Str("job_id", jobID).Msg("driver: drop partial artifact")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
