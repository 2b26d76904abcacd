package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the Telegram webhook",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Register the bot commands and webhook URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Telegram.BotToken == "" {
			return eris.New("telegram.bot_token is not set")
		}
		if cfg.Telegram.WebhookURL == "" {
			zap.L().Warn("telegram.webhook_url not set, only commands will be registered")
		}
		if err := registerWebhook(cmd.Context(), newBot(cfg.Telegram), cfg.Telegram); err != nil {
			return err
		}
		zap.L().Info("webhook registered", zap.Bool("webhook", cfg.Telegram.WebhookURL != ""))
		return nil
	},
}

func init() {
	webhookCmd.AddCommand(webhookSetCmd)
	rootCmd.AddCommand(webhookCmd)
}
