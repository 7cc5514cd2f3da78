/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/logger"
	"github.com/gotours/apiserver/internal/mail"
	"github.com/gotours/apiserver/internal/mq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Starts the mail delivery worker",
	Long: `Starts the worker that drains the mail queue and delivers
account notifications. Usage:

	gotours worker
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		log, err := logger.New(cfg.Env)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer logger.Sync(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := mq.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open mail broker: %w", err)
		}
		defer func() {
			_ = broker.Close()
		}()

		worker := mail.NewWorker(broker, cfg.Mail.Queue, mail.LogSender{Logger: log}, log)
		log.Info("mail worker started", zap.String("queue", cfg.Mail.Queue))

		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
