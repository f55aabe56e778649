package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"shelly-dtu/config"
	"shelly-dtu/internal/api"
	"shelly-dtu/internal/collector"
	"shelly-dtu/internal/limit"
	"shelly-dtu/internal/logging"
	"shelly-dtu/internal/mqtt"
	"shelly-dtu/internal/natsbus"
	"shelly-dtu/internal/ringbuffer"
	"shelly-dtu/internal/shelly"
	"shelly-dtu/internal/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring service",
		Long:  "Start the collector, the Shelly clients, the limit control, the API server and the publishers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, log)
		},
	}
}

func serve(cfg *config.Config, log logr.Logger) error {
	modbusClient, sungrow := newInverter(cfg, log)
	defer modbusClient.Close()

	var db *storage.Database
	if cfg.Database.Enabled {
		var err error
		db, err = storage.NewDatabase(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		log.Info("Database opened", "path", cfg.Database.Path)
	}

	var publishers []collector.Publisher
	publisher, err := mqtt.NewPublisher(mqtt.PublisherConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		Enabled:     cfg.MQTT.Enabled,
		Discovery:   cfg.MQTT.Discovery,
		Resend:      cfg.MQTT.Resend,
		Logger:      log.WithName("mqtt"),
	})
	if err != nil {
		log.Error(err, "MQTT connection failed, continuing without MQTT")
	} else {
		defer publisher.Close()
		publishers = append(publishers, publisher)
	}

	bus, err := natsbus.New(natsbus.Config{
		Enabled: cfg.NATS.Enabled,
		URL:     cfg.NATS.URL,
		Subject: cfg.NATS.Subject,
		Logger:  log.WithName("nats"),
	})
	if err != nil {
		log.Error(err, "NATS connection failed, continuing without NATS")
	} else {
		defer bus.Close()
		publishers = append(publishers, bus)
	}

	store := shelly.NewStore(cfg.Shelly.ShellyConfig)
	data := shelly.NewData(cfg.Shelly.BufferSize, ringbuffer.SystemClock{}, store)
	restoreBackup(cfg.Shelly.BackupPath, data, log)

	coll := collector.NewCollector(collector.CollectorConfig{
		Inverter:   sungrow,
		Database:   db,
		Publishers: publishers,
		ShellyData: data,
		Store:      store,
		Interval:   cfg.Collector.Interval,
		Enabled:    cfg.Collector.Enabled,
		Password:   cfg.API.Password,
		Retention:  cfg.Collector.Retention,
		Logger:     log.WithName("collector"),
	})

	calcCfg := limit.CalculatorConfig{
		Store:    store,
		Data:     data,
		Inverter: sungrow,
		Logger:   log.WithName("limit"),
	}
	if db != nil {
		calcCfg.Recorder = db
	}
	controller := limit.NewController(limit.NewCalculator(calcCfg), cfg.Shelly.LimitInterval, log.WithName("limit"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logging.ErrorIfNotCanceled(log, err, "Component failed", "component", name)
			}
		}()
	}

	run("collector", coll.Start)
	for _, kind := range []shelly.Kind{shelly.KindPro3EM, shelly.KindPlugs} {
		client := shelly.NewClient(shelly.ClientConfig{
			Kind:              kind,
			Store:             store,
			Data:              data,
			Logger:            log.WithName("shelly"),
			ReconnectInterval: cfg.Shelly.ReconnectInterval,
			PollInterval:      cfg.Shelly.PollInterval,
		})
		run("shelly-"+kind.String(), client.Run)
	}
	run("limit", func(ctx context.Context) error {
		controller.Run(ctx)
		return nil
	})

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(api.ServerConfig{
			Port:          cfg.API.Port,
			Live:          coll,
			Database:      db,
			Store:         store,
			Data:          data,
			Password:      cfg.API.Password,
			AllowReadonly: cfg.API.AllowReadonly,
			ConfigPath:    configFile,
			Logger:        log.WithName("api"),
		})
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "API server error")
				stop()
			}
		}()
	}

	log.Info("shelly-dtu started. Press Ctrl+C to stop.")
	<-ctx.Done()
	log.Info("Shutting down...")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error(err, "API server shutdown failed")
		}
		cancel()
	}
	wg.Wait()
	writeBackup(cfg.Shelly.BackupPath, data, log)
	return nil
}

func restoreBackup(path string, data *shelly.Data, log logr.Logger) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error(err, "Failed to open shelly backup", "path", path)
		}
		return
	}
	defer f.Close()
	n, err := data.Restore(f)
	if err != nil {
		log.Error(err, "Failed to restore shelly backup", "path", path, "entries", n)
		return
	}
	log.Info("Shelly backup restored", "path", path, "entries", n)
}

func writeBackup(path string, data *shelly.Data, log logr.Logger) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		log.Error(err, "Failed to create shelly backup", "path", path)
		return
	}
	n, err := data.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Error(err, "Failed to write shelly backup", "path", path)
		return
	}
	log.Info("Shelly backup written", "path", path, "entries", n)
}
