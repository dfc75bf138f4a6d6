package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"flowgen/internal/artifact"
	"flowgen/internal/browser"
	"flowgen/internal/credentials"
	"flowgen/internal/driver"
	"flowgen/internal/infra"
	"flowgen/internal/orchestrator"
	"flowgen/internal/registry"
)

var (
	runHeadless bool
	runCookies  string
	runOutput   string
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Generate a video for a prompt and wait for the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		return runOnce(cmd.Context(), prompt)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "run the browser without a visible window")
	runCmd.Flags().StringVar(&runCookies, "cookies", "", "path to the cookie export file (defaults to CREDENTIALS_PATH)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "directory for downloaded videos (defaults to STORAGE_PATH)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 6*time.Minute, "how long to wait before giving up")
	rootCmd.AddCommand(runCmd)
}

func runOnce(ctx context.Context, prompt string) error {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	cookiesPath := cfg.CredentialsPath
	if runCookies != "" {
		cookiesPath = runCookies
	}
	creds, err := credentials.NewStore(cookiesPath)
	if err != nil {
		return err
	}
	if bundle, err := creds.Active(); err == nil {
		if email, ok := bundle.Email(); ok {
			fmt.Printf("using session for %s\n", email)
		}
	}

	outputPath := cfg.StoragePath
	if runOutput != "" {
		outputPath = runOutput
	}
	store, err := artifact.NewFileStore(outputPath)
	if err != nil {
		return err
	}

	launch := browser.Launcher(browser.Config{
		BaseURL:       cfg.TargetURL,
		WorkspaceURL:  cfg.WorkspaceURL,
		UserAgent:     cfg.BrowserUserAgent,
		NavTimeout:    cfg.NavigationTimeout,
		SubmitRetries: cfg.SubmitRetryAttempts,
	}, logger)

	drv, err := driver.New(launch, creds, store, logger, driver.Config{
		PollInterval: cfg.PollInterval,
		WaitBudget:   cfg.GenerationTimeout,
		SettleDelay:  cfg.SettleDelay,
	})
	if err != nil {
		return err
	}

	jobs := registry.New()
	orch := orchestrator.New(jobs, drv, logger, orchestrator.Config{
		MaxConcurrent:   1,
		DefaultHeadless: runHeadless,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = orch.Shutdown(shutdownCtx)
	}()

	jobID, err := orch.Submit(prompt, orchestrator.SubmitOptions{Headless: &runHeadless})
	if err != nil {
		return err
	}
	fmt.Printf("job %s submitted\n", jobID)

	deadline := time.NewTimer(runTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var lastProgress string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("job %s did not finish within %s", jobID, runTimeout)
		case <-ticker.C:
		}

		job, err := jobs.Get(jobID)
		if err != nil {
			return err
		}
		if job.Progress != lastProgress {
			fmt.Println(job.Progress)
			lastProgress = job.Progress
		}
		if !job.Status.Terminal() {
			continue
		}

		if job.Error != nil {
			return fmt.Errorf("job failed at stage %s: %s", job.Error.Stage, job.Error.Message)
		}
		fmt.Printf("generated %d video(s):\n", len(job.Results))
		for _, name := range job.Results {
			fmt.Printf("  %s\n", filepath.Join(store.BasePath(), jobID, name))
		}
		return nil
	}
}
