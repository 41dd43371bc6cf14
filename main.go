package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"momento/internal/app"
	"momento/internal/handlers"
	"momento/internal/logging"
	"momento/internal/media"
	"momento/internal/memory"
	"momento/internal/metrics"
	"momento/internal/middleware"
	"momento/internal/startup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	startTime := time.Now()

	limit := memory.ConfigureFromEnv()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	startup.LogMemoryConfig(limit)

	metrics.InitializeMetrics()
	info := startup.GetBuildInfo()
	metrics.AppInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)

	if err := media.InitVips(config.Import.Concurrency); err != nil {
		logging.Warn("libvips unavailable, using pure Go thumbnails: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, config, limit)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(a.DBInitDuration)

	a.Memory.Start()

	collector := metrics.NewCollector(a.DB, config.DatabasePath, time.Minute)
	collector.Start()

	if config.Watch.Enabled {
		if err := a.Watcher.Start(ctx); err != nil {
			startup.LogFatal("Failed to start watch folder: %v", err)
		}
	}
	a.Purger.Start(ctx)
	startup.LogServicesStarted(config)

	h := handlers.New(handlers.Config{
		Store:       a.DB,
		Jobs:        a.Jobs,
		Importer:    a.Scheduler,
		Regenerator: a.Regenerator,
		ImportsDir:  config.ImportsDir,
		BaseContext: ctx,
	})

	router := mux.NewRouter()
	h.Register(router)
	if config.MetricsEnabled {
		router.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))
	}
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           middleware.Logger(loggingConfig)(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              ":" + config.MetricsPort,
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go handleShutdown(done, cancel, srv, metricsSrv, a, collector)

	h.SetReady(true)
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-done
}

func handleShutdown(done chan<- struct{}, cancel context.CancelFunc, srv, metricsSrv *http.Server, a *app.App, collector *metrics.Collector) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancelTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelTimeout()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Cancelling running jobs")
	cancel()
	a.Jobs.CancelAll()
	startup.LogShutdownStepComplete("Cancellation requested")

	startup.LogShutdownStep("Stopping watch folder")
	a.Watcher.Stop()
	startup.LogShutdownStepComplete("Watch folder stopped")

	startup.LogShutdownStep("Stopping trash purger")
	a.Purger.Stop()
	startup.LogShutdownStepComplete("Trash purger stopped")

	startup.LogShutdownStep("Stopping metrics")
	collector.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}
	startup.LogShutdownStepComplete("Metrics stopped")

	startup.LogShutdownStep("Closing database")
	if err := a.Close(shutdownTimeout); err != nil {
		logging.Warn("Database close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Jobs settled and database closed")
	}

	a.Memory.Stop()
	media.ShutdownVips()

	startup.LogShutdownComplete()
}
