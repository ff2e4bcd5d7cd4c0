package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"gitforge/config"
	"gitforge/pkg/cluster"
	"gitforge/pkg/lifecycle"
	"gitforge/pkg/server"
	"gitforge/storage"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	src, err := config.NewSource(confDir)
	if err != nil {
		return err
	}
	cfg, err := config.Resolve(ctx, src, config.WithLogger(slog.Default()))
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting gitforge",
		"version", version,
		"pid", os.Getpid(),
		"conf_dir", cfg.ConfDir,
		"data_dir", cfg.DataDir,
		"cluster_address", cfg.ClusterAddr(),
	)

	// Initialize storage
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	nodeID, err := store.NodeID(ctx)
	if err != nil {
		return err
	}

	mgr := cluster.NewManager(cluster.Config{
		NodeID:    nodeID,
		Address:   cfg.ClusterAddr(),
		DataDir:   filepath.Join(cfg.DataDir, "raft"),
		Bootstrap: cfg.ClusterBootstrap,
		Logger:    logger,
	})
	defer mgr.Shutdown()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	health := server.NewHealth()
	machine := lifecycle.New(lifecycle.Options{
		Config:    cfg,
		Data:      store,
		Identity:  store,
		Listeners: []lifecycle.Listener{mgr, health},
		Logger:    logger,
		Metrics:   lifecycle.NewMetrics(reg),
		ServerURL: store.ServerURL,
	})

	srv := server.New(cfg, server.Deps{
		Lifecycle: machine,
		Setup:     store,
		Cluster:   mgr,
		Health:    health,
		Gatherer:  reg,
		Logger:    logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop(context.Background())

	if err := machine.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown requested before setup completed")
			return nil
		}
		return err
	}
	if err := machine.PostStart(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// Shutdown hooks get a fresh context; ctx is already done.
	shutdownCtx := context.Background()
	err = machine.PreStop(shutdownCtx)
	if stopErr := machine.Stop(shutdownCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if stopErr := srv.Stop(shutdownCtx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if err != nil {
		return err
	}

	logger.Info("gitforge stopped")
	return nil
}
