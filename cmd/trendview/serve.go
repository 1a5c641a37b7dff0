package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/wavetrend/pkg/config"
	"github.com/nicktill/wavetrend/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pcfg, err := server.PipelineConfig(cfg.Pipeline)
	if err != nil {
		return err
	}
	srv := server.New(store, server.Options{
		Pipeline: pcfg,
		Logger:   log,
		Port:     cfg.Server.ListenPort,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		srv.Run(ctx)
		return nil
	})

	if gc, ok := store.(server.GarbageCollector); ok {
		g.Go(func() error {
			server.RunStoreGC(ctx, gc, config.BadgerGCInterval, log)
			return nil
		})
	}

	g.Go(func() error {
		log.WithField("addr", httpServer.Addr).Info("server ready to accept requests")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("server shutdown")
		}
		return nil
	})

	err = g.Wait()
	log.Info("server exited")
	return err
}
