package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dmpimu/internal/sensors/mpu9250"
)

type Config struct {
	IMU         IMUConfig         `yaml:"imu"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Output      OutputConfig      `yaml:"output"`
	HTTP        HTTPConfig        `yaml:"http"`
}

type IMUConfig struct {
	Bus           string `yaml:"i2c_bus"`
	Address       uint16 `yaml:"address"`
	InterruptChip string `yaml:"interrupt_chip"`
	// Pointers distinguish "unset" from a legitimate zero.
	InterruptLine *int `yaml:"interrupt_line"`

	AccelFSR  string `yaml:"accel_fsr"`
	GyroFSR   string `yaml:"gyro_fsr"`
	AccelDLPF *int   `yaml:"accel_dlpf"`
	GyroDLPF  *int   `yaml:"gyro_dlpf"`

	EnableMagnetometer bool    `yaml:"enable_magnetometer"`
	SampleRate         int     `yaml:"sample_rate"`
	Orientation        string  `yaml:"orientation"`
	CompassMixFactor   float64 `yaml:"compass_mix_factor"`
	ShowWarnings       *bool   `yaml:"show_warnings"`

	// Firmware is the DMP image uploaded when streaming starts.
	Firmware string `yaml:"firmware"`
}

type CalibrationConfig struct {
	Dir        string `yaml:"dir"`
	MagSamples int    `yaml:"mag_samples"`
}

type OutputConfig struct {
	Interval time.Duration `yaml:"interval"`
	UDP      UDPConfig     `yaml:"udp"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type MQTTConfig struct {
	Enable   bool   `yaml:"enable"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// HTTPConfig controls the status server (/metrics, /api/*, /ws/attitude).
type HTTPConfig struct {
	Enable   bool   `yaml:"enable"`
	Listen   string `yaml:"listen"`
	LogLines int    `yaml:"log_lines"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && unknownFieldsOnly(te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLines(te.Errors), "; "))
		}
		return Config{}, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldsOnly(te *yaml.TypeError) bool {
	for _, e := range te.Errors {
		if !strings.Contains(e, "not found in type") {
			return false
		}
	}
	return len(te.Errors) > 0
}

// stripLines drops the "line N: " prefix yaml puts on each message.
func stripLines(msgs []string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.HasPrefix(m, "line ") {
			if _, rest, ok := strings.Cut(m, ": "); ok {
				m = rest
			}
		}
		out = append(out, m)
	}
	return out
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func (cfg *Config) applyDefaults() error {
	imu := &cfg.IMU
	if imu.Bus == "" {
		imu.Bus = "/dev/i2c-2"
	}
	if imu.Address == 0 {
		imu.Address = mpu9250.DefaultAddress()
	}
	if imu.InterruptChip == "" {
		imu.InterruptChip = "gpiochip3"
	}
	if imu.InterruptLine == nil {
		imu.InterruptLine = intPtr(21)
	}
	if *imu.InterruptLine < 0 {
		return fmt.Errorf("imu.interrupt_line must be >= 0")
	}
	if imu.AccelFSR == "" {
		imu.AccelFSR = "4g"
	}
	if imu.GyroFSR == "" {
		imu.GyroFSR = "1000dps"
	}
	if imu.AccelDLPF == nil {
		imu.AccelDLPF = intPtr(184)
	}
	if imu.GyroDLPF == nil {
		imu.GyroDLPF = intPtr(184)
	}
	if imu.SampleRate == 0 {
		imu.SampleRate = 100
	}
	if imu.Orientation == "" {
		imu.Orientation = "z_up"
	}
	if imu.CompassMixFactor == 0 {
		imu.CompassMixFactor = 4
	}
	if imu.ShowWarnings == nil {
		imu.ShowWarnings = boolPtr(true)
	}
	if imu.Firmware == "" {
		imu.Firmware = "/usr/share/dmpimu/mpu9250_dmp.bin"
	}
	if _, err := imu.Device(); err != nil {
		return err
	}

	if cfg.Calibration.Dir == "" {
		cfg.Calibration.Dir = "/var/lib/dmpimu"
	}
	if cfg.Calibration.MagSamples == 0 {
		cfg.Calibration.MagSamples = mpu9250.DefaultMagSamples
	}
	if cfg.Calibration.MagSamples < 0 {
		return fmt.Errorf("calibration.mag_samples must be > 0")
	}

	if cfg.Output.Interval <= 0 {
		cfg.Output.Interval = 100 * time.Millisecond
	}
	if cfg.Output.UDP.Enable && cfg.Output.UDP.Dest == "" {
		return fmt.Errorf("output.udp.dest is required when output.udp.enable is true")
	}
	if cfg.Output.MQTT.Enable {
		if cfg.Output.MQTT.Broker == "" {
			return fmt.Errorf("output.mqtt.broker is required when output.mqtt.enable is true")
		}
		if cfg.Output.MQTT.Topic == "" {
			cfg.Output.MQTT.Topic = "dmpimu/attitude"
		}
		if cfg.Output.MQTT.ClientID == "" {
			cfg.Output.MQTT.ClientID = "dmpimu"
		}
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":9109"
	}
	if cfg.HTTP.LogLines == 0 {
		cfg.HTTP.LogLines = 1000
	}
	if cfg.HTTP.LogLines < 0 {
		return fmt.Errorf("http.log_lines must be > 0")
	}
	return nil
}

// Device converts the imu section into the driver's typed configuration
// and validates it.
func (c IMUConfig) Device() (mpu9250.Config, error) {
	d := mpu9250.DefaultConfig()
	var err error
	if d.AccelFSR, err = mpu9250.ParseAccelFSR(c.AccelFSR); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.accel_fsr: %w", err)
	}
	if d.GyroFSR, err = mpu9250.ParseGyroFSR(c.GyroFSR); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.gyro_fsr: %w", err)
	}
	if c.AccelDLPF != nil {
		if d.AccelDLPF, err = mpu9250.ParseDLPF(*c.AccelDLPF); err != nil {
			return mpu9250.Config{}, fmt.Errorf("imu.accel_dlpf: %w", err)
		}
	}
	if c.GyroDLPF != nil {
		if d.GyroDLPF, err = mpu9250.ParseDLPF(*c.GyroDLPF); err != nil {
			return mpu9250.Config{}, fmt.Errorf("imu.gyro_dlpf: %w", err)
		}
	}
	if d.Orientation, err = mpu9250.ParseOrientation(c.Orientation); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.orientation: %w", err)
	}
	d.EnableMagnetometer = c.EnableMagnetometer
	d.SampleRate = c.SampleRate
	d.CompassMixFactor = c.CompassMixFactor
	if c.ShowWarnings != nil {
		d.ShowWarnings = *c.ShowWarnings
	}
	if err := d.Validate(); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu: %w", err)
	}
	return d, nil
}
