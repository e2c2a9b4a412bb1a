package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"closingbell/internal/app"
	"closingbell/internal/config"
	"closingbell/internal/grpcapi"
	"closingbell/internal/httpapi"
	"closingbell/internal/metrics"
	"closingbell/internal/scheduler"
	"closingbell/internal/store"
	"closingbell/internal/task"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config (env CLOSINGBELL_CONFIG)")
	skipStartup := flag.Bool("skip-startup-run", false, "do not run the task at startup even if schedule.run_immediately is set")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *skipStartup {
		cfg.Schedule.RunImmediately = false
	}

	logger, closeLog, err := app.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	cal, err := app.NewCalendar(cfg, logger, m)
	if err != nil {
		log.Fatalf("failed to build trading calendar: %v", err)
	}

	runs, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open run history: %v", err)
	}
	defer runs.Close()

	cmd, err := task.NewCommand(cfg.Task.Command, cfg.Task.Dir, cfg.Task.Env, cfg.Task.Timeout, logger)
	if err != nil {
		log.Fatalf("invalid task: %v", err)
	}

	flagShutdown := scheduler.NewShutdownFlag()
	sched, err := scheduler.New(scheduler.Config{
		ScheduleTime: cfg.Schedule.Time,
		PollInterval: cfg.Schedule.PollInterval,
		Location:     cal.Location(),
	}, cal,
		scheduler.WithShutdownFlag(flagShutdown),
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(m),
		scheduler.WithRecorder(runs),
	)
	if err != nil {
		log.Fatalf("invalid schedule: %v", err)
	}

	// Signals only set the flag; the loop notices between poll cycles.
	stopSignals := scheduler.WatchSignals(flagShutdown, logger)
	defer stopSignals()

	var srv *http.Server
	if cfg.Server.Addr != "" {
		api := httpapi.NewStatusServer(sched, cal, runs, prometheus.DefaultGatherer, logger)
		srv = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.Server.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
	}

	var health *grpcapi.HealthServer
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("failed to listen on %s: %v", cfg.Server.GRPCAddr, err)
		}
		health = grpcapi.NewHealthServer(flagShutdown, logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("grpc health server failed", "error", err)
			}
		}()
	}

	slog.Info("starting closingbell",
		"schedule", cfg.Schedule.Time,
		"timezone", cal.Location().String(),
		"calendar", cfg.Calendar.Source,
		"task", cmd.String(),
		"run_immediately", cfg.Schedule.RunImmediately,
	)

	if err := sched.SetDailyTask(cmd.Run, cfg.Schedule.RunImmediately); err != nil {
		log.Fatalf("failed to register task: %v", err)
	}

	// A signal during the startup run ends the loop before its first sleep.
	if err := sched.Run(); err != nil {
		logger.Error("scheduler error", "error", err)
	}

	if health != nil {
		health.Stop()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
	slog.Info("closingbell exited")
}
