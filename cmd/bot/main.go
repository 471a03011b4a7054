package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-futures-bot-go/internal/binance"
	"binance-futures-bot-go/internal/config"
	"binance-futures-bot-go/internal/database"
	"binance-futures-bot-go/internal/logger"
	"binance-futures-bot-go/internal/notify"
	"binance-futures-bot-go/internal/trader"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize the trade history database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize Binance futures REST client
	client := binance.NewFuturesClient(&cfg.Binance, log)
	if _, err := client.GetServerTime(); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API.")

	// Pick the notification channel. Without Telegram credentials all
	// notifications go to the log only.
	var notifier notify.Notifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		tg, err := notify.NewTelegramNotifier(&cfg.Telegram, log)
		if err != nil {
			log.Fatal("Failed to initialize Telegram notifier", zap.Error(err))
		}
		notifier = tg
		log.Info("Telegram notifier initialized")
	} else {
		notifier = notify.NewLogNotifier(log)
		log.Warn("Telegram credentials missing, notifications go to the log only")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start the engine before the webhook server: a signal that lands first
	// must spawn its workers under the cancellable run context.
	engine := trader.NewEngine(log, &cfg, client, notifier, db)
	engine.Start(ctx)

	api := trader.NewAPIServer(engine, log)
	api.Start()

	<-ctx.Done()
	engine.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
