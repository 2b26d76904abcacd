package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook and test HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}

		// Sessions keep running after a shutdown signal until they finish.
		sessionCtx := context.WithoutCancel(ctx)
		env.Stats.Start(sessionCtx)

		if cfg.Telegram.BotToken != "" {
			if err := registerWebhook(ctx, env.Bot, cfg.Telegram); err != nil {
				zap.L().Error("webhook registration failed", zap.Error(err))
			}
		} else {
			zap.L().Warn("telegram bot token not set, webhook disabled")
		}

		s := &server{
			botToken:      cfg.Telegram.BotToken,
			webhookSecret: cfg.Telegram.WebhookSecret,
			corsOrigins:   cfg.Server.CORSOrigins,
			chat:          env.Chat,
			runner:        env.Pipeline,
			stats:         env.Stats,
			baseCtx:       sessionCtx,
		}

		addr := serveAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server", zap.String("addr", addr), zap.String("mode", string(env.Pipeline.Mode())))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		var serveErr error
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}

		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
		env.Close(shutdownCtx)

		if serveErr != nil {
			return eris.Wrap(serveErr, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
