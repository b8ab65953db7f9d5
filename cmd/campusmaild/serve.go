package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rbaliyan/campusmail"
	"github.com/rbaliyan/campusmail/identity"
	"github.com/rbaliyan/campusmail/internal/config"
	"github.com/rbaliyan/campusmail/internal/httpapi"
	"github.com/rbaliyan/campusmail/retry"
	"github.com/rbaliyan/campusmail/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "campusmail.yaml", "path to config file")
	return cmd
}

// serve runs until ctx is cancelled, then drains HTTP and closes the service.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var cleanup []func() error
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			if err := cleanup[i](); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}()

	st, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeStore)

	opts := []campusmail.Option{
		campusmail.WithStore(st),
		campusmail.WithLogger(logger),
		campusmail.WithIdentityProvider(newDirectory(cfg.Directory)),
		campusmail.WithConnectRetry(retry.Policy{
			Attempts:       cfg.Store.ConnectAttempts,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		}),
		campusmail.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		campusmail.WithEventErrorsFatal(cfg.Events.Fatal),
	}
	opts = append(opts, limitOptions(cfg.Limits)...)

	if cfg.Events.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		cleanup = append(cleanup, rdb.Close)
		opts = append(opts, campusmail.WithRedisClient(rdb))
	}

	src, closeSources, err := buildAttachments(ctx, cfg.Attachments, logger)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeSources)
	if src != nil {
		opts = append(opts, campusmail.WithAttachmentSource(src))
	}

	svc, err := campusmail.NewService(opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := svc.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	cleanup = append(cleanup, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return svc.Close(closeCtx)
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.New(svc, httpapi.WithLogger(logger)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newDirectory(users []config.User) *identity.Static {
	ids := make([]store.Identity, len(users))
	for i, u := range users {
		ids[i] = store.Identity{ID: u.ID, Name: u.Name, Role: u.Role}
	}
	return identity.NewStatic(ids...)
}

// limitOptions turns non-zero limits into service options.
func limitOptions(l config.LimitsConfig) []campusmail.Option {
	var opts []campusmail.Option
	if l.MaxSubjectLength > 0 {
		opts = append(opts, campusmail.WithMaxSubjectLength(l.MaxSubjectLength))
	}
	if l.MaxContentSize > 0 {
		opts = append(opts, campusmail.WithMaxContentSize(l.MaxContentSize))
	}
	if l.MaxAttachmentCount > 0 {
		opts = append(opts, campusmail.WithMaxAttachmentCount(l.MaxAttachmentCount))
	}
	if l.DefaultPageLimit > 0 {
		opts = append(opts, campusmail.WithDefaultPageLimit(l.DefaultPageLimit))
	}
	if l.MaxPageLimit > 0 {
		opts = append(opts, campusmail.WithMaxPageLimit(l.MaxPageLimit))
	}
	if l.MaxConcurrentSends > 0 {
		opts = append(opts, campusmail.WithMaxConcurrentSends(l.MaxConcurrentSends))
	}
	return opts
}
