package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"evvos-field/internal/agent"
	"evvos-field/internal/common/logger"
	"evvos-field/internal/config"
	"evvos-field/internal/service"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "evvos-device-agent")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	deviceID := agent.DeviceID()
	log.Info("Device agent starting", zap.String("device_id", deviceID))

	intake := agent.NewCredentialIntake()
	credFile := agent.NewCredentialFile(cfg.Provision.CredsFile)
	wifi := agent.NewNmcliManager("wlan0", log)
	cloud := agent.NewCloudClient(
		cfg.Cloud.BaseURL,
		cfg.Cloud.APIKey,
		time.Duration(cfg.Cloud.TimeoutSeconds)*time.Second,
		deviceID,
		log,
	)
	checker := agent.NewRestyChecker("", 5*time.Second)

	provisioner := agent.NewProvisioner(intake, credFile, wifi, cloud, checker, agent.ProvisionerOptions{
		DeviceName:         getHostname(),
		IntakeTimeout:      time.Duration(cfg.Provision.IntakeTimeoutSec) * time.Second,
		WifiAttempts:       cfg.Provision.WifiAttempts,
		InternetAttempts:   cfg.Provision.InternetAttempts,
		HeartbeatInterval:  time.Duration(cfg.Provision.HeartbeatInterval) * time.Second,
		DisconnectInterval: time.Duration(cfg.Provision.DisconnectInterval) * time.Second,
	}, log)

	httpServer := agent.NewServer(intake, provisioner.RequestDisconnect, log)
	srv := service.NewServer(cfg.HTTP.Addr, httpServer, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go provisioner.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Shutdown signal received")
		cancel()
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func getHostname() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "evvos-device"
}
