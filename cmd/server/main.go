package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credpool-go/internal/config"
	"credpool-go/internal/credential"
	"credpool-go/internal/events"
	"credpool-go/internal/logging"
	tracing "credpool-go/internal/monitoring/tracing"
	"credpool-go/internal/probe"
	rt "credpool-go/internal/runtime"
	srv "credpool-go/internal/server"
	"credpool-go/internal/storage"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	manager, err := config.NewManager(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	defer manager.Stop()
	cfg := manager.Current()

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	store, err := storage.Open(cfg.StorageSettings())
	if err != nil {
		log.WithError(err).Fatal("failed to open storage backend")
	}
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.Initialize(initCtx); err != nil {
		cancelInit()
		log.WithError(err).Fatal("failed to initialize storage backend")
	}
	cancelInit()
	defer store.Close()

	cipher, err := credential.NewAESCipher([]byte(cfg.MasterKey))
	if err != nil {
		log.WithError(err).Fatal("invalid master key")
	}

	hub := events.NewHub()
	pool := credential.NewPool(credential.Options{
		Store:             store,
		Cipher:            cipher,
		Prober:            probe.NewRegistry(cfg.ProxyURL),
		ProbeTimeout:      time.Duration(cfg.ProbeTimeoutSec) * time.Second,
		ImportConcurrency: cfg.ImportConcurrency,
		SweepConcurrency:  cfg.SweepConcurrency,
		SweepCooldown:     time.Duration(cfg.SweepCooldownMin) * time.Minute,
		SweepTimeout:      time.Duration(cfg.SweepTimeoutMin) * time.Minute,
		ProbeRatePerSec:   cfg.ProbeRatePerSec,
		Publisher:         hub,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tasks := rt.NewTaskManager(ctx)
	if cfg.SweepIntervalMin > 0 {
		interval := time.Duration(cfg.SweepIntervalMin) * time.Minute
		err := tasks.StartPeriodic("revalidation-sweep", "re-probes exhausted credentials past cooldown", interval, func(taskCtx context.Context) error {
			report, err := pool.Sweep(taskCtx)
			if err != nil {
				return err
			}
			log.WithFields(log.Fields{
				"scanned":         report.Scanned,
				"reactivated":     report.Reactivated,
				"still_exhausted": report.StillExhausted,
				"errors":          report.Errors,
			}).Info("Scheduled sweep finished")
			return nil
		})
		if err != nil {
			log.WithError(err).Fatal("failed to start sweep task")
		}
	}

	server := srv.New(manager, pool, hub, tasks)
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Error("server exited with error")
	}

	tasks.StopAll()
	tasks.Wait()
	log.Info("shutdown complete")
}
