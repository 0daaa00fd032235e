package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dmpimu/internal/ahrs"
	"dmpimu/internal/config"
)

func main() {
	var (
		configPath string
		calibrate  string
		magSamples int
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config (built-in defaults when empty)")
	flag.StringVar(&calibrate, "calibrate", "", "Run a calibration (gyro or mag), save it and exit")
	flag.IntVar(&magSamples, "mag-samples", 0, "Magnetometer readings for -calibrate mag (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("config load failed: %v", err)
		}
	}

	svcCfg, err := serviceConfig(cfg)
	if err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if calibrate != "" {
		n := cfg.Calibration.MagSamples
		if magSamples > 0 {
			n = magSamples
		}
		if err := ahrs.Calibrate(ctx, svcCfg, calibrate, n); err != nil {
			log.Fatalf("%s calibration failed: %v", calibrate, err)
		}
		log.Printf("%s calibration saved under %s", calibrate, cfg.Calibration.Dir)
		return
	}

	log.Printf("dmpimu starting")
	if err := stream(ctx, cfg, svcCfg); err != nil {
		log.Fatalf("dmpimu failed: %v", err)
	}
	log.Printf("dmpimu stopped")
}

func serviceConfig(cfg config.Config) (ahrs.Config, error) {
	dev, err := cfg.IMU.Device()
	if err != nil {
		return ahrs.Config{}, err
	}
	line := 0
	if cfg.IMU.InterruptLine != nil {
		line = *cfg.IMU.InterruptLine
	}
	return ahrs.Config{
		I2CBus:         cfg.IMU.Bus,
		IMUAddr:        cfg.IMU.Address,
		InterruptChip:  cfg.IMU.InterruptChip,
		InterruptLine:  line,
		Firmware:       cfg.IMU.Firmware,
		CalibrationDir: cfg.Calibration.Dir,
		Device:         dev,
	}, nil
}
