package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pillars-watch/internal/app"
	"pillars-watch/internal/config"
	"pillars-watch/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pillars-watch",
	Short: "Отслеживание паттернов в ежедневных отметках и эскалирующие интервенции",
	// По умолчанию работает как сервис
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить бота, HTTP API и сканирование по расписанию",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Разовое сканирование всех пользователей",
	Long: `Сканирует активных и недавно замолчавших пользователей один раз,
отправляет новые и повышенные интервенции и печатает итог в JSON.`,
	RunE: runScan,
}

func main() {
	rootCmd.AddCommand(serveCmd, scanCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка создания логгера: %w", err)
	}
	return cfg, lg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	defer lg.Sync()

	if err := cfg.RequireTelegram(); err != nil {
		return err
	}

	application, err := app.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("ошибка создания приложения: %w", err)
	}
	if err := application.Start(); err != nil {
		return fmt.Errorf("ошибка запуска приложения: %w", err)
	}
	defer application.Stop()

	waitForShutdown()
	lg.Info("👋 Приложение завершает работу")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, lg, err := setup()
	if err != nil {
		return err
	}
	defer lg.Sync()

	application, err := app.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("ошибка создания приложения: %w", err)
	}
	defer application.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := application.RunScan(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
