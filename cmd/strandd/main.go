package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/StrandLabs/strand/config"
	"github.com/StrandLabs/strand/da"
	"github.com/StrandLabs/strand/service"
	"github.com/StrandLabs/strand/store"
	"github.com/StrandLabs/strand/transport"
	"gopkg.in/yaml.v3"
)

var (
	logger         *slog.Logger
	configPath     string
	generateConfig bool
)

func init() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger = slog.New(handler)
	slog.SetDefault(logger)

	flag.StringVar(&configPath, "config", "strand.yaml", "Path to the gateway configuration file")
	flag.BoolVar(&generateConfig, "generate-config", false, "Write a default configuration to the --config path and exit")
}

func main() {
	flag.Parse()

	if generateConfig {
		if err := writeDefaultConfig(configPath); err != nil {
			logger.Error("Failed to generate config", "path", configPath, "error", err)
			os.Exit(1)
		}
		logger.Info("Default configuration written", "path", configPath)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	client, err := buildTransport(cfg)
	if err != nil {
		logger.Error("Failed to initialize network transport", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	selector := store.NewNodeSelector(logger, client, cfg.Storage.SegmentNumber, cfg.Storage.ReplicaCount)
	blobs := store.NewBlobStore(store.BlobStoreConfig{
		Logger:         logger,
		Client:         client,
		Selector:       selector,
		Signer:         cfg.Network.Signer,
		FlowContract:   cfg.Network.FlowContract,
		MaxFileSize:    cfg.Storage.MaxFileSize,
		MetadataStream: cfg.Storage.MetadataStream,
		StagingDir:     cfg.Storage.StagingDir,
	})
	kv := store.NewKVStore(logger, client, cfg.Network.Signer, cfg.Network.FlowContract)
	batch := store.NewBatchCoordinator(logger, blobs)
	estimator := store.NewEstimator(cfg.Cost)
	daService := da.New(logger, client, cfg.DA)
	defer daService.Stop()

	svc := service.New(service.Config{
		Logger:   logger,
		Cfg:      cfg,
		Client:   client,
		Blobs:    blobs,
		KV:       kv,
		Selector: selector,
		Batch:    batch,
		Cost:     estimator,
		DA:       daService,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Stop(ctx); err != nil {
			logger.Error("Shutdown was not clean", "error", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Service exited with error", "error", err)
			os.Exit(1)
		}
	}
}

func buildTransport(cfg *config.Config) (transport.Client, error) {
	if cfg.Network.RPCURL == "" {
		logger.Info("No RPC endpoint configured, using embedded local network", "dir", cfg.Network.LocalDir)
		return transport.NewLocal(transport.LocalConfig{
			Directory: cfg.Network.LocalDir,
			Logger:    logger,
		})
	}
	return transport.NewRemote(transport.RemoteConfig{
		RPCURL:       cfg.Network.RPCURL,
		IndexerURL:   cfg.Network.IndexerURL,
		RetrieverURL: cfg.Network.RetrieverURL,
		KVNodeURL:    cfg.Network.KVNodeURL,
		DisperserURL: cfg.Network.DisperserURL,
		Signer:       cfg.Network.Signer,
		SkipVerify:   cfg.Network.SkipVerify,
		Logger:       logger,
	})
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing file at %s", path)
	}
	data, err := yaml.Marshal(config.GenerateConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
