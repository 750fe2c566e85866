package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/agentforge-cli/internal/adapters/httpstream"
	tomlrepo "github.com/bnema/agentforge-cli/internal/adapters/repo/toml"
	chainstore "github.com/bnema/agentforge-cli/internal/adapters/secrets/chain"
	"github.com/bnema/agentforge-cli/internal/adapters/telemetry"
	"github.com/bnema/agentforge-cli/internal/application"
	"github.com/bnema/agentforge-cli/internal/config"
	"github.com/bnema/agentforge-cli/internal/domain"
	"github.com/bnema/agentforge-cli/internal/logging"
	"github.com/bnema/agentforge-cli/internal/ports"
	"github.com/bnema/agentforge-cli/internal/stream"
	"github.com/bnema/agentforge-cli/internal/version"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const traceFileMode = 0o600

type app struct {
	configFile string
	traceFile  string

	cfg        config.Config
	logger     *zap.Logger
	history    *application.HistoryService
	generation *application.GenerationService
	refinement *application.RefinementService
	token      *application.TokenService

	tracer       trace.Tracer
	closeTracing func(context.Context) error
}

// runE wires the app from flags and config before fn runs and releases it
// afterwards.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := a.wire(); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, a.close(context.WithoutCancel(cmd.Context())))
		}()
		return fn(cmd, args)
	}
}

func (a *app) wire() error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("wire logger: %w", err)
	}
	a.logger = logger

	secretStore, err := chainstore.NewEnvFirstWithFileFallback(config.EnvPrefix, cfg.SecretsDir)
	if err != nil {
		return fmt.Errorf("wire secret store chain: %w", err)
	}

	repo, err := tomlrepo.NewRepository(v)
	if err != nil {
		return fmt.Errorf("wire run history: %w", err)
	}

	if err := a.wireTracing(); err != nil {
		return err
	}

	client := &httpstream.Client{
		API: httpstream.API{
			BaseURL:      cfg.API.BaseURL,
			PipelinePath: cfg.API.PipelinePath,
			RefinePath:   cfg.API.RefinePath,
			SavePath:     cfg.API.SavePath,
		},
		HTTPClient:     &http.Client{},
		RequestTimeout: cfg.API.RequestTimeout,
		Secrets:        secretStore,
		TokenRef:       cfg.API.TokenRef,
		UserAgent:      "agentforge-cli/" + version.Version,
		Logger:         logger.Named("http"),
	}
	streamConfig := stream.Config{
		ReadBuffer:   cfg.Stream.ReadBuffer,
		MaxLineBytes: cfg.Stream.MaxLineBytes,
	}
	clock := ports.SystemClock{}

	a.history = application.NewHistoryService(repo)
	a.generation = application.NewGenerationService(client, repo, client, clock, logger.Named("generate"), application.GenerationConfig{
		MinDwell:    cfg.Stream.MinDwell,
		GracePeriod: cfg.Stream.GracePeriod,
		Stream:      streamConfig,
	})
	a.refinement = application.NewRefinementService(client, repo, clock, logger.Named("refine"), streamConfig)
	a.token = application.NewTokenService(secretStore, cfg.API.TokenRef)

	logger.Debug("wired",
		zap.String("base_url", cfg.API.BaseURL),
		zap.String("history", repo.Path()),
		zap.Duration("min_dwell", cfg.Stream.MinDwell),
	)
	return nil
}

func (a *app) wireTracing() error {
	path := strings.TrimSpace(a.traceFile)
	if path == "" {
		path = strings.TrimSpace(a.cfg.Trace.File)
	}
	if path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create trace directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, traceFileMode)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}

	tp, shutdown, err := telemetry.NewWriterProvider(file, version.Version)
	if err != nil {
		_ = file.Close()
		return err
	}

	a.tracer = tp.Tracer(telemetry.TracerName)
	a.closeTracing = func(ctx context.Context) error {
		return errors.Join(shutdown(ctx), file.Close())
	}
	return nil
}

// instrument returns the per-run span recorder, or nil when tracing is off.
func (a *app) instrument() func(context.Context, domain.RunID) application.RunObserver {
	if a.tracer == nil {
		return nil
	}
	return func(ctx context.Context, runID domain.RunID) application.RunObserver {
		return telemetry.NewRecorder(ctx, a.tracer, runID)
	}
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.closeTracing != nil {
		if err := a.closeTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush traces: %w", err))
		}
		a.closeTracing = nil
	}
	if a.logger != nil {
		// Sync on a terminal device reports EINVAL; there is nothing to flush there.
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
