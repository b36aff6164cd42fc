package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/linht/adrv-manager/internal/adrv9001"
	"github.com/linht/adrv-manager/internal/config"
	"github.com/linht/adrv-manager/internal/emulator"
	"github.com/linht/adrv-manager/internal/status"
	"github.com/linht/adrv-manager/internal/transport"
	"github.com/linht/adrv-manager/plugins"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	slog.Info("Configuration loaded", "path", *configPath)

	dev, err := openDevice(cfg.Device, logger)
	if err != nil {
		slog.Error("Failed to open device", "error", err, "transport", cfg.Device.Transport)
		os.Exit(1)
	}
	defer dev.Close()

	env := &plugins.Env{
		Device:     dev,
		Config:     cfg,
		ConfigPath: *configPath,
		Logger:     logger,
	}

	if cfg.Device.AD9152 != nil {
		dac, err := openDAC(cfg.Device)
		if err != nil {
			slog.Error("Failed to open AD9152", "error", err, "device", cfg.Device.AD9152.SPIDevice)
			os.Exit(1)
		}
		defer dac.Close()
		env.DAC = transport.NewRegisterBus(dac)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Status.Endpoint != "" {
		startStatusPublisher(ctx, cfg.Status, dev, logger)
	}

	srv := newServer(cfg)
	if err := srv.loadPlugins(env); err != nil {
		slog.Error("Failed to initialize plugins", "error", err)
		os.Exit(1)
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port

	// Setup graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		slog.Info("Shutting down server...")
		cancel()
		srv.shutdownPlugins()
		if err := srv.app.ShutdownWithContext(context.Background()); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	slog.Info("Starting ADRV9001 Manager", "address", addr)
	if err := srv.app.Listen(addr); err != nil {
		slog.Error("Failed to start server", "error", err, "address", addr)
		os.Exit(1)
	}
}

// openTransport opens the byte transport named by cfg.Transport.
func openTransport(cfg config.DeviceConfig, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportSPI:
		port, err := transport.OpenSPI(cfg.SPI.Device, cfg.SPI.SpeedHz)
		if err != nil {
			return nil, err
		}
		if err := checkTransferLimit(port.MaxTxSize()); err != nil {
			port.Close()
			return nil, fmt.Errorf("SPI device %s: %w", cfg.SPI.Device, err)
		}
		return port, nil
	case config.TransportSerial:
		return transport.OpenSerialBridge(cfg.Serial.Port, cfg.Serial.Baud)
	case config.TransportEmulator:
		return emulator.New(emulator.Options{
			InitializedChannels: cfg.ChannelMask(),
			Logger:              logger.With("component", "emulator"),
		}), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// checkTransferLimit rejects a driver that cannot carry the largest
// transfer the device layer issues. Zero means no reported limit.
func checkTransferLimit(limit int) error {
	if limit != 0 && limit < adrv9001.MaxTransferSize {
		return fmt.Errorf("driver limits transfers to %d bytes, %d needed", limit, adrv9001.MaxTransferSize)
	}
	return nil
}

// resetChip pulses the reset line if one is configured. The ARM firmware
// must be reloaded by the boot loader afterwards, so this only runs when
// the config asks for it.
func resetChip(cfg config.GPIOConfig) error {
	if cfg.Chip == "" {
		return nil
	}
	line, err := transport.OpenResetLine(cfg.Chip, cfg.ResetPin)
	if err != nil {
		return err
	}
	defer line.Close()

	slog.Info("Pulsing reset line", "line", line.String())
	if err := line.Pulse(); err != nil {
		return err
	}

	asserted, err := line.Asserted()
	if err != nil {
		return err
	}
	if asserted {
		return fmt.Errorf("reset line %s still asserted after pulse", line.String())
	}
	return nil
}

func openDevice(cfg config.DeviceConfig, logger *slog.Logger) (*adrv9001.Device, error) {
	if cfg.Transport != config.TransportEmulator {
		if err := resetChip(cfg.GPIO); err != nil {
			return nil, fmt.Errorf("failed to reset device: %w", err)
		}
	}

	tr, err := openTransport(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open transport: %w", err)
	}

	dev := adrv9001.New(tr, adrv9001.Options{
		Logger: logger.With("component", "adrv9001"),
		Timeouts: adrv9001.Timeouts{
			Default:       cfg.Timeouts.Default,
			RadioOnOff:    cfg.Timeouts.RadioOnOff,
			ReadArmConfig: cfg.Timeouts.ReadArmConfig,
			InitCals:      cfg.Timeouts.InitCals,
		},
		InitializedChannels: cfg.ChannelMask(),
		ProfileMasks:        cfg.ProfileMasks,
	})

	info, err := dev.Probe()
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("failed to probe device: %w", err)
	}
	slog.Info("Device ready", "chip", info.String(), "transport", cfg.Transport)
	return dev, nil
}

func openDAC(cfg config.DeviceConfig) (transport.Transport, error) {
	if cfg.Transport == config.TransportEmulator {
		return nil, fmt.Errorf("device.ad9152 is not available with the emulator transport")
	}
	return transport.OpenSPI(cfg.AD9152.SPIDevice, cfg.SPI.SpeedHz)
}

// startStatusPublisher mirrors the device health into the Modbus block
// until ctx ends. A failed dial is logged and the service runs without it.
func startStatusPublisher(ctx context.Context, cfg config.StatusConfig, dev *adrv9001.Device, logger *slog.Logger) {
	client, err := status.Dial(cfg.Endpoint, cfg.Timeout)
	if err != nil {
		slog.Warn("Status publisher disabled", "error", err, "endpoint", cfg.Endpoint)
		return
	}

	pub := status.NewPublisher(client, cfg.UnitID, cfg.Address, logger.With("component", "status"))
	go func() {
		defer client.Close()
		pub.Run(ctx, dev, cfg.Interval)
	}()
	slog.Info("Status publisher started", "endpoint", cfg.Endpoint, "unit", cfg.UnitID, "address", cfg.Address)
}
