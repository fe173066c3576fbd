package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/saker-ai/audiosync/internal/config"
	"github.com/saker-ai/audiosync/internal/lifecycle"
	applogger "github.com/saker-ai/audiosync/internal/logger"
	"github.com/saker-ai/audiosync/internal/observe"
	"github.com/saker-ai/audiosync/internal/pipeline"
	"github.com/saker-ai/audiosync/internal/report"
	"github.com/saker-ai/audiosync/internal/source"
	"github.com/saker-ai/audiosync/pkg/runtime"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to audiosync.yaml (default: search from the working directory)")
	outDir := flag.String("out", "", "directory for resynchronized WAV output")
	reportPath := flag.String("report", "", "also write the run report to this file")
	serve := flag.Bool("serve", false, "serve the HTTP API and keep running until interrupted")
	clockMode := flag.String("clock", "", "reference clock: wall or simulated")
	loops := flag.Int("loops", -1, "restart every input this many times (0 = forever)")
	flag.Parse()

	cfg, err := appconfig.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiosync: load config: %v\n", err)
		return 1
	}
	if err := applyFlags(&cfg, *outDir, *reportPath, *serve, *clockMode, *loops); err != nil {
		fmt.Fprintf(os.Stderr, "audiosync: %v\n", err)
		return 2
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	inputs, err := appconfig.ScanInputs(flag.Args(), source.Extensions)
	if err != nil {
		logger.Error("scan inputs failed", zap.Error(err))
		return 1
	}
	if len(inputs) == 0 && !*serve {
		fmt.Fprintln(os.Stderr, "usage: audiosync [flags] input...")
		flag.PrintDefaults()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observe.Metrics
	if cfg.Metrics.Enabled {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			logger.Warn("metrics provider unavailable", zap.Error(err))
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
			metrics = observe.DefaultMetrics()
		}
	}

	srv := runtime.New(cfg, logger, metrics)
	go func() {
		if err := srv.Run(); err != nil {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
	}()

	code := 0
	if len(inputs) > 0 {
		code = process(ctx, cfg, srv, metrics, logger, inputs)
	}

	if *serve {
		logger.Info("serving until interrupted", zap.String("addr", srv.Addr()))
		<-ctx.Done()
	}
	return code
}

func applyFlags(cfg *appconfig.Config, outDir, reportPath string, serve bool, clockMode string, loops int) error {
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if reportPath != "" {
		cfg.Output.Report = reportPath
	}
	if serve {
		cfg.HTTP.Enabled = true
	}
	switch mode := strings.ToLower(strings.TrimSpace(clockMode)); mode {
	case "":
	case appconfig.ClockWall, appconfig.ClockSimulated:
		cfg.Stream.Clock = mode
	default:
		return fmt.Errorf("-clock: unknown mode %q", clockMode)
	}
	if loops >= 0 {
		cfg.Stream.Mode = string(lifecycle.ModeLoop)
		cfg.Stream.MaxLoops = loops
	}
	return nil
}

func process(ctx context.Context, cfg appconfig.Config, srv *runtime.Server, metrics *observe.Metrics, logger *zap.Logger, inputs []string) int {
	p := pipeline.New(cfg, pipeline.Deps{
		Groups:  srv.Groups(),
		Hub:     srv.Hub(),
		Metrics: metrics,
		Logger:  logger,
	})
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("close pipeline failed", zap.Error(err))
		}
	}()

	r := report.New(cfg.Stream.Clock, cfg.Resample.Engine)
	code := 0
	if err := p.Open(inputs); err != nil {
		logger.Error("open inputs failed", zap.Error(err))
		return 1
	}
	logger.Info("audiosync run started",
		zap.String("run_id", r.RunID),
		zap.Int("inputs", len(inputs)),
		zap.String("clock", cfg.Stream.Clock),
		zap.String("mode", cfg.Stream.Mode),
	)
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run failed", zap.Error(err))
		code = 1
	}

	p.Fill(r)
	for _, in := range r.Inputs {
		if in.State != string(lifecycle.StateEnded) {
			code = 1
		}
		logger.Info("input finished",
			zap.String("path", in.Path),
			zap.String("state", in.State),
			zap.String("output", in.Output),
			zap.Uint64("samples_out", in.Stats.SamplesOut),
			zap.String("error", in.Error),
		)
	}

	uid, err := report.Store{BaseDir: cfg.Output.ReportDir}.Save(r)
	if err != nil {
		logger.Warn("save report failed", zap.Error(err))
	} else {
		logger.Info("report saved", zap.String("uid", uid), zap.String("dir", cfg.Output.ReportDir))
	}
	if cfg.Output.Report != "" {
		if err := report.WriteFile(cfg.Output.Report, r); err != nil {
			logger.Error("write report failed", zap.Error(err))
			code = 1
		}
	}
	return code
}
