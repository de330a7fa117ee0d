package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"visiond/internal/broker"
	"visiond/internal/clock"
	"visiond/internal/config"
	"visiond/internal/engine"
	"visiond/internal/httpapi"
	"visiond/internal/jobs"
	"visiond/internal/provider"
	"visiond/internal/registry"
	"visiond/internal/service"
	"visiond/internal/slot"
	"visiond/pkg/types"
)

var flags struct {
	configPath   string
	addr         string
	modelsDir    string
	defaultModel string
	outputDir    string
	sdBin        string
	providerURL  string
	webhookBase  string
	logLevel     string
}

func main() {
	root := &cobra.Command{
		Use:   "visiond",
		Short: "Image generation daemon with a local model slot and a provider fallback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	f := root.Flags()
	f.StringVar(&flags.configPath, "config", "", "Path to a yaml/json/toml config file")
	f.StringVar(&flags.addr, "addr", "", "HTTP listen address, e.g. :8080")
	f.StringVar(&flags.modelsDir, "models-dir", "", "Directory to scan for *.safetensors model files")
	f.StringVar(&flags.defaultModel, "default-model", "", "Default model id when request omits model")
	f.StringVar(&flags.outputDir, "output-dir", "", "Directory for generated artifacts")
	f.StringVar(&flags.sdBin, "sd-bin", "", "Path to the stable-diffusion.cpp sd binary")
	f.StringVar(&flags.providerURL, "provider-base-url", "", "Remote provider API base URL")
	f.StringVar(&flags.webhookBase, "webhook-base", "", "Public base URL for provider callbacks")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug|info|warn|error")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges file, environment, and flag settings; flags win.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if flags.configPath != "" {
		var err error
		cfg, err = config.Load(flags.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}
	if v := os.Getenv("VISIOND_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("VISIOND_PROVIDER_API_KEY"); v != "" {
		cfg.ProviderAPIKey = v
	}
	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.modelsDir != "" {
		cfg.ModelsDir = flags.modelsDir
	}
	if flags.defaultModel != "" {
		cfg.DefaultModel = flags.defaultModel
	}
	if flags.outputDir != "" {
		cfg.OutputDir = flags.outputDir
	}
	if flags.sdBin != "" {
		cfg.SDBin = flags.sdBin
	}
	if flags.providerURL != "" {
		cfg.ProviderBaseURL = flags.providerURL
	}
	if flags.webhookBase != "" {
		cfg.WebhookBase = flags.webhookBase
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "./out"
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	var models []types.Model
	if cfg.ModelsDir != "" {
		models, err = registry.LoadDir(cfg.ModelsDir)
		if err != nil {
			return fmt.Errorf("load models: %w", err)
		}
	}

	clk := clock.New()
	sl := slot.New(engine.NewDiskRepository(models), clk, log)

	var eng engine.Engine = engine.NewUnavailable()
	if cfg.SDBin != "" {
		eng = engine.NewSubprocess(engine.SubprocessConfig{
			Bin:    cfg.SDBin,
			OutDir: cfg.OutputDir,
		}, log)
	}

	var brk *broker.Broker
	gw := provider.NewClient(provider.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
	}, log)
	providerEnabled := cfg.ProviderBaseURL != "" && gw.IsConfigured()
	if providerEnabled {
		brk = broker.New(gw, jobs.NewRegistry(log), clk, broker.Config{
			PushTimeout:  time.Duration(cfg.PushTimeoutSec) * time.Second,
			PollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
			TotalTimeout: time.Duration(cfg.TotalTimeoutSec) * time.Second,
			WebhookBase:  cfg.WebhookBase,
		}, log)
	}

	svc := service.New(service.Options{
		Models:          models,
		DefaultModel:    cfg.DefaultModel,
		OutputDir:       cfg.OutputDir,
		Slot:            sl,
		Engine:          eng,
		Broker:          brk,
		ProviderEnabled: providerEnabled,
		Clock:           clk,
		Log:             log,
	})

	httpapi.SetLogger(log)
	if cfg.MaxBodyBytes > 0 {
		httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	}
	if cfg.CORSEnabled {
		httpapi.SetCORSOptions(true, cfg.CORSAllowedOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "X-Request-Id"})
	}
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("models_dir", cfg.ModelsDir).
			Int("models", len(models)).
			Bool("provider", providerEnabled).
			Msg("visiond listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	sl.Release()
	return nil
}
