// cmd/discord/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/bot"
	"github.com/keshon/salabot/internal/config"
	"github.com/keshon/salabot/internal/discord"
	"github.com/keshon/salabot/internal/examples"
	"github.com/keshon/salabot/internal/logging"
	"github.com/keshon/salabot/internal/status"
	"github.com/keshon/salabot/internal/store"
	"github.com/keshon/salabot/internal/task"
	v "github.com/keshon/salabot/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.New(cfg.AppEnv, cfg.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	log.Info("Starting bot", zap.String("app", v.AppName), zap.String("version", v.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store(), log.Named("store"))
	if err != nil {
		return err
	}
	if st == nil {
		log.Warn("Running without storage; grants, prefixes and subscriptions are not kept")
	} else {
		defer func() {
			if err := st.Close(); err != nil {
				log.Error("Failed to close store", zap.Error(err))
			}
		}()
	}

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	client := discord.NewClient(session, log.Named("discord"))

	sched := task.NewCronScheduler(log)
	sched.Start()
	defer sched.Stop()

	b, err := bot.New(ctx, bot.Config{
		Master:      cfg.MasterID,
		Prefix:      cfg.Prefix,
		HTTPTimeout: cfg.HTTPTimeout,
	}, client, st, sched, log.Named("bot"))
	if err != nil {
		return err
	}
	defer b.Stop()

	if err := b.AddModule(ctx, examples.Module(examples.Config{FactURL: cfg.FactURL})...); err != nil {
		log.Warn("Some example plugins were not loaded", zap.Error(err))
	}

	errCh := make(chan error, 2)
	if cfg.StatusAddr != "" {
		srv := status.New(b, log.Named("status"))
		go func() {
			if err := srv.Run(ctx, cfg.StatusAddr); err != nil {
				errCh <- err
			}
		}()
	}

	gw := discord.NewGateway(session, b, log.Named("gateway"))
	go func() {
		errCh <- gw.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("Bot stopped with error", zap.Error(err))
			stop()
			return err
		}
	case <-ctx.Done():
		log.Info("Received shutdown signal")
		// wait for the gateway to close the session
		if err := <-errCh; err != nil {
			log.Error("Gateway close failed", zap.Error(err))
		}
	}

	log.Info("Bot exited cleanly")
	return nil
}
