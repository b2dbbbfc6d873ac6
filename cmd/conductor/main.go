package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"conductor/pkg/archive"
	"conductor/pkg/backend"
	"conductor/pkg/backend/factory"
	"conductor/pkg/backend/middleware"
	"conductor/pkg/config"
	"conductor/pkg/healthserver"
	"conductor/pkg/job"
	"conductor/pkg/lock"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
	"conductor/pkg/orch"
	"conductor/pkg/review"
	"conductor/pkg/router"
	"conductor/pkg/session"
	"conductor/pkg/trace"
	"conductor/pkg/version"
)

func main() {
	var (
		configPath  = flag.String("config", config.ConfigFilename, "Path to config file")
		dataDir     = flag.String("data-dir", "", "State directory (overrides config)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	os.Exit(run(*configPath, *dataDir))
}

// run contains the main application logic and returns an exit code.
// This allows defers to execute before os.Exit is called.
func run(configPath, dataDirOverride string) int {
	logger := logx.NewLogger("main")

	// Local .env keeps API keys out of the shell profile. Missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		return 1
	}

	if err := handleSecretsDecryption(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}
	if err := config.ResolveAPIKey(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	health := backend.NewHealth(cfg.Backend.Provider, cfg.Backend.Model)
	health.MarkRunning()

	recorder := middleware.NewPrometheusRecorder()
	invoker, err := factory.New(&cfg.Backend, recorder, health)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create backend: %v\n", err)
		return 1
	}
	health.MarkReady()

	sessions, err := session.NewRepository(filepath.Join(cfg.DataDir, "sessions"), session.Mode(cfg.DefaultMode))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session store: %v\n", err)
		return 1
	}
	jobs, err := job.NewRepository(cfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open job store: %v\n", err)
		return 1
	}
	runLock := lock.New(filepath.Join(cfg.DataDir, "run.lock"), cfg.StaleLockAfter.Std())

	traceWriter, err := trace.NewWriter(filepath.Join(cfg.DataDir, "trace"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open trace sink: %v\n", err)
		return 1
	}

	runArchive, err := archive.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		// The archive is an analytics convenience, not required state.
		logger.Warn("Run archive unavailable: %v", err)
		runArchive = nil
	} else {
		defer func() { _ = runArchive.Close() }()
	}

	var usage *metrics.QueryService
	if cfg.PrometheusURL != "" {
		usage, err = metrics.NewQueryService(cfg.PrometheusURL)
		if err != nil {
			logger.Warn("Usage metrics unavailable: %v", err)
		}
	}

	single := review.NewSingleFlow(invoker)
	flows := review.Flows{
		Single: single,
		Plan:   review.NewPlanFlow(invoker, single, cfg.MaxReviewRounds),
		Multi:  review.NewMultiFlow(invoker),
	}

	coordinator := orch.New(cfg, sessions, jobs, runLock, flows, traceWriter, runArchive)
	handler := router.NewHandler(cfg, sessions, jobs, coordinator, health, runArchive, usage)

	healthserver.NewServer(health, jobs).Start(ctx, cfg.HealthAddr)

	logger.Info("Started (provider=%s, model=%s, data_dir=%s)",
		cfg.Backend.Provider, cfg.Backend.Model, cfg.DataDir)

	if err := runConsole(ctx, handler); err != nil {
		fmt.Fprintf(os.Stderr, "Console loop failed: %v\n", err)
		return 1
	}

	health.MarkStopped()
	logger.Info("Shutting down")
	return 0
}

// handleSecretsDecryption unlocks the encrypted secrets file if one
// exists, loading credentials into memory for the backend.
func handleSecretsDecryption(dataDir string) error {
	if !config.SecretsFileExists(dataDir) {
		return nil
	}

	fmt.Print("Enter password to unlock secrets: ")
	password, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	secrets, err := config.DecryptSecretsFile(dataDir, string(password))
	for i := range password {
		password[i] = 0
	}
	if err != nil {
		return err
	}

	config.SetDecryptedSecrets(secrets)
	return nil
}
