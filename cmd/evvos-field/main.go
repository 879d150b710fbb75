package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"evvos-field/internal/backup"
	"evvos-field/internal/common/database"
	"evvos-field/internal/common/logger"
	"evvos-field/internal/common/mqtt"
	commonredis "evvos-field/internal/common/redis"
	"evvos-field/internal/config"
	"evvos-field/internal/httpapi"
	"evvos-field/internal/provisioning"
	"evvos-field/internal/repository"
	"evvos-field/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "evvos-field")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	defer redisClient.Close()

	mqttClient, err := mqtt.NewClient(&cfg.MQTT)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	// 仓储层
	backupRepo := repository.NewBackupRequestsRepository(db, log)
	credsRepo := repository.NewDeviceCredentialsRepository(db, log)

	// 紧急支援协调器
	notifier := backup.NewMQTTNotifier(mqttClient, cfg.Backup.NotifyTopic, cfg.MQTT.QoS, log)
	backupCoord := backup.NewCoordinator(
		backupRepo,
		notifier,
		time.Duration(cfg.Backup.WatchInterval)*time.Second,
		log,
	)

	// 设备配网协调器
	deviceClient := provisioning.NewDeviceClient(
		cfg.Device.BaseURL,
		time.Duration(cfg.Device.TimeoutSeconds)*time.Second,
		log,
	)
	pairingStore := provisioning.NewRedisPairingStore(redisClient, cfg.Provisioning.PairingKeyPrefix, log)
	provCoord := provisioning.NewCoordinator(
		deviceClient,
		credsRepo,
		pairingStore,
		time.Duration(cfg.Provisioning.PollInterval)*time.Second,
		cfg.Provisioning.MaxPollAttempts,
		time.Duration(cfg.Provisioning.FreshnessMinutes)*time.Minute,
		log,
	)

	// HTTP 路由
	router := httpapi.NewRouter(log)
	router.RegisterBackupRoutes(httpapi.NewBackupHandler(backupCoord, backupRepo, log))
	router.RegisterProvisioningRoutes(httpapi.NewProvisioningHandler(provCoord, log))
	router.RegisterHealthRoute("evvos-field")

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Shutdown signal received")
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
	}

	// 先停掉在途的配网轮询，再关 HTTP
	provCoord.Cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}
