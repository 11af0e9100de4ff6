package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/db"
	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/services"
	"go.uber.org/zap"
)

// Notify bridge subscribes to notification events and forwards them to the
// email/SMS delivery service.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "fundsafe-notify-bridge", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	delivery := services.NewDeliveryClient(cfg.NotifyServiceURL, log)

	log.Info("notify-bridge started")

	err = subscriber.Subscribe(ctx, events.ChannelNotify, func(event events.Event) {
		if event.Type != events.EventNotification {
			return
		}
		if err := delivery.Deliver(ctx, event); err != nil {
			log.Warn("failed to forward notification", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}
