package mpu9250

import (
	"errors"
	"fmt"
	"strings"
)

type AccelFSR int

const (
	Accel2G AccelFSR = iota
	Accel4G
	Accel8G
	Accel16G
)

type GyroFSR int

const (
	Gyro250DPS GyroFSR = iota
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

// DLPF selects the digital low-pass filter bandwidth in Hz. DLPFOff bypasses it.
type DLPF int

const (
	DLPFOff DLPF = 0
	DLPF184 DLPF = 184
	DLPF92  DLPF = 92
	DLPF41  DLPF = 41
	DLPF20  DLPF = 20
	DLPF10  DLPF = 10
	DLPF5   DLPF = 5
)

// Orientation is the mounting orientation, named by which body axis points
// up. The value is the scalar the DMP expects in its orientation matrix.
type Orientation int

const (
	OrientationZUp   Orientation = 136
	OrientationZDown Orientation = 396
	OrientationXUp   Orientation = 14
	OrientationXDown Orientation = 266
	OrientationYUp   Orientation = 112
	OrientationYDown Orientation = 336
)

var orientationNames = map[Orientation]string{
	OrientationZUp:   "z_up",
	OrientationZDown: "z_down",
	OrientationXUp:   "x_up",
	OrientationXDown: "x_down",
	OrientationYUp:   "y_up",
	OrientationYDown: "y_down",
}

func (o Orientation) String() string {
	if n, ok := orientationNames[o]; ok {
		return n
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

func (o Orientation) valid() bool {
	_, ok := orientationNames[o]
	return ok
}

func ParseOrientation(s string) (Orientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for o, n := range orientationNames {
		if n == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("mpu9250: unknown orientation %q", s)
}

func ParseAccelFSR(s string) (AccelFSR, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "2g":
		return Accel2G, nil
	case "4g":
		return Accel4G, nil
	case "8g":
		return Accel8G, nil
	case "16g":
		return Accel16G, nil
	}
	return 0, fmt.Errorf("mpu9250: unknown accel range %q", s)
}

func ParseGyroFSR(s string) (GyroFSR, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "250dps":
		return Gyro250DPS, nil
	case "500dps":
		return Gyro500DPS, nil
	case "1000dps":
		return Gyro1000DPS, nil
	case "2000dps":
		return Gyro2000DPS, nil
	}
	return 0, fmt.Errorf("mpu9250: unknown gyro range %q", s)
}

func ParseDLPF(hz int) (DLPF, error) {
	switch d := DLPF(hz); d {
	case DLPFOff, DLPF184, DLPF92, DLPF41, DLPF20, DLPF10, DLPF5:
		return d, nil
	}
	return 0, fmt.Errorf("mpu9250: unsupported dlpf %d Hz", hz)
}

// Config describes how the sensor is set up. It is fixed once a session
// leaves UNCONFIGURED.
type Config struct {
	AccelFSR  AccelFSR
	GyroFSR   GyroFSR
	AccelDLPF DLPF
	GyroDLPF  DLPF

	EnableMagnetometer bool
	// SampleRate is the DMP output rate in Hz.
	SampleRate  int
	Orientation Orientation
	// CompassMixFactor weights gyro-integrated yaw against magnetic
	// heading. Larger trusts the gyro longer.
	CompassMixFactor float64
	ShowWarnings     bool
}

// DefaultConfig mirrors the defaults the device ships with in this project.
func DefaultConfig() Config {
	return Config{
		AccelFSR:         Accel4G,
		GyroFSR:          Gyro1000DPS,
		AccelDLPF:        DLPF184,
		GyroDLPF:         DLPF184,
		SampleRate:       100,
		Orientation:      OrientationZUp,
		CompassMixFactor: 4,
		ShowWarnings:     true,
	}
}

var (
	ErrSampleRate    = errors.New("mpu9250: invalid sample rate")
	ErrOrientation   = errors.New("mpu9250: invalid orientation")
	ErrZeroMixFactor = errors.New("mpu9250: compass mix factor must be > 0")
)

// Validate checks the settings DMP streaming depends on.
func (c Config) Validate() error {
	if c.SampleRate < 4 || c.SampleRate > dmpSampleRate {
		return fmt.Errorf("%w: %d Hz not in [4, %d]", ErrSampleRate, c.SampleRate, dmpSampleRate)
	}
	if dmpSampleRate%c.SampleRate != 0 {
		return fmt.Errorf("%w: %d Hz does not divide %d", ErrSampleRate, c.SampleRate, dmpSampleRate)
	}
	if !c.Orientation.valid() {
		return fmt.Errorf("%w: %d", ErrOrientation, int(c.Orientation))
	}
	if !(c.CompassMixFactor > 0) {
		return fmt.Errorf("%w: got %v", ErrZeroMixFactor, c.CompassMixFactor)
	}
	if c.AccelFSR < Accel2G || c.AccelFSR > Accel16G {
		return fmt.Errorf("mpu9250: invalid accel range %d", c.AccelFSR)
	}
	if c.GyroFSR < Gyro250DPS || c.GyroFSR > Gyro2000DPS {
		return fmt.Errorf("mpu9250: invalid gyro range %d", c.GyroFSR)
	}
	if _, err := ParseDLPF(int(c.AccelDLPF)); err != nil {
		return err
	}
	if _, err := ParseDLPF(int(c.GyroDLPF)); err != nil {
		return err
	}
	return nil
}

// accelScale converts raw counts to m/s².
func (c Config) accelScale() float64 {
	g := [...]float64{2, 4, 8, 16}[c.AccelFSR]
	return g * gravity / 32768.0
}

// gyroScale converts raw counts to deg/s.
func (c Config) gyroScale() float64 {
	dps := [...]float64{250, 500, 1000, 2000}[c.GyroFSR]
	return dps / 32768.0
}

func (c Config) packetLen() int {
	if c.EnableMagnetometer {
		return packetLenMag
	}
	return packetLenNoMag
}

func dlpfBits(d DLPF) byte {
	switch d {
	case DLPF184:
		return 1
	case DLPF92:
		return 2
	case DLPF41:
		return 3
	case DLPF20:
		return 4
	case DLPF10:
		return 5
	case DLPF5:
		return 6
	}
	return 0
}
