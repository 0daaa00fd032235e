// Package ahrs runs the MPU-9250 DMP pipeline and keeps the latest attitude
// as a JSON-friendly snapshot.
package ahrs

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"

	"dmpimu/internal/calstore"
	"dmpimu/internal/gpio"
	"dmpimu/internal/i2c"
	"dmpimu/internal/sensors/mpu9250"
)

type Config struct {
	I2CBus        string
	IMUAddr       uint16
	InterruptChip string
	InterruptLine int

	Firmware       string
	CalibrationDir string

	Device mpu9250.Config
}

type Snapshot struct {
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at"`

	RollDeg    float64 `json:"roll_deg"`
	PitchDeg   float64 `json:"pitch_deg"`
	YawDeg     float64 `json:"yaw_deg"`
	DMPYawDeg  float64 `json:"dmp_yaw_deg"`
	HeadingDeg float64 `json:"heading_deg"`

	AccelMS2 [3]float64 `json:"accel_ms2"`
	GyroDPS  [3]float64 `json:"gyro_dps"`
	MagUT    [3]float64 `json:"mag_ut"`
	MagValid bool       `json:"mag_valid"`
	TempC    float64    `json:"temp_c"`

	LastReadOK bool   `json:"last_read_ok"`
	LastError  string `json:"last_error,omitempty"`
}

// sensor is the part of mpu9250.Session the service drives.
type sensor interface {
	StartStreaming(ctx context.Context, firmware []byte) error
	SetCallback(fn func())
	Sample() mpu9250.Sample
	LastReadSuccessful() bool
	ReadTemp() (float64, error)
	Stats() mpu9250.Stats
	PowerOff() error
}

type Service struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot
	sess sensor

	cycles  int
	closers []func() error

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) *Service {
	if cfg.I2CBus == "" {
		cfg.I2CBus = "/dev/i2c-2"
	}
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = mpu9250.DefaultAddress()
	}
	return &Service{cfg: cfg}
}

// Start opens the hardware and begins streaming. On failure everything
// opened so far is closed again.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	firmware, err := os.ReadFile(s.cfg.Firmware)
	if err != nil {
		return fmt.Errorf("ahrs: read firmware: %w", err)
	}

	bus, err := i2c.Open(s.cfg.I2CBus)
	if err != nil {
		s.setErr(err.Error())
		return fmt.Errorf("ahrs: %w", err)
	}
	s.closers = append(s.closers, bus.Close)

	edge, err := gpio.OpenFallingEdge(s.cfg.InterruptChip, s.cfg.InterruptLine, "dmpimu")
	if err != nil {
		return multierr.Append(err, s.Close())
	}
	s.closers = append(s.closers, edge.Close)

	sess, err := mpu9250.Open(s.cfg.Device, bus, s.cfg.IMUAddr, edge, s.store())
	if err != nil {
		return multierr.Append(err, s.Close())
	}
	if err := s.startWith(ctx, sess, firmware); err != nil {
		s.setErr(err.Error())
		return multierr.Append(err, s.Close())
	}
	log.Printf("ahrs: streaming from %s addr=0x%02X at %d Hz (magnetometer=%v)",
		s.cfg.I2CBus, s.cfg.IMUAddr, s.cfg.Device.SampleRate, s.cfg.Device.EnableMagnetometer)
	return nil
}

func (s *Service) store() *calstore.Store {
	if s.cfg.CalibrationDir == "" {
		return nil
	}
	return calstore.New(s.cfg.CalibrationDir)
}

func (s *Service) startWith(ctx context.Context, sess sensor, firmware []byte) error {
	sess.SetCallback(s.update)
	if err := sess.StartStreaming(ctx, firmware); err != nil {
		sess.SetCallback(nil)
		return err
	}
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	// Session teardown runs before the edge and bus are closed.
	s.closers = append([]func() error{sess.PowerOff}, s.closers...)
	return nil
}

// update runs on the session worker after each cycle.
func (s *Service) update() {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()
	if sess == nil {
		return
	}

	s.cycles++
	rate := s.cfg.Device.SampleRate
	if rate <= 0 {
		rate = 1
	}
	// Die temperature once a second is plenty.
	if (s.cycles-1)%rate == 0 {
		if _, err := sess.ReadTemp(); err != nil {
			log.Printf("ahrs: temperature read: %v", err)
		}
	}

	ok := sess.LastReadSuccessful()
	snap := snapshotFrom(sess.Sample(), ok)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok {
		// Keep the last good attitude but flag the failure.
		s.snap.LastReadOK = false
		s.snap.LastError = "imu: read failed"
		return
	}
	s.snap = snap
}

func (s *Service) setErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Valid = false
	s.snap.LastError = msg
	s.snap.UpdatedAt = time.Now().UTC()
}

func deg(rad float64) float64 { return rad * 180 / math.Pi }

// heading360 maps radians onto [0, 360).
func heading360(rad float64) float64 {
	d := math.Mod(deg(rad), 360)
	if d < 0 {
		d += 360
	}
	return d
}

func snapshotFrom(smp mpu9250.Sample, ok bool) Snapshot {
	return Snapshot{
		Valid:      !smp.Time.IsZero(),
		UpdatedAt:  smp.Time.UTC(),
		RollDeg:    deg(smp.FusedTaitBryan.Roll),
		PitchDeg:   deg(smp.FusedTaitBryan.Pitch),
		YawDeg:     deg(smp.FusedTaitBryan.Yaw),
		DMPYawDeg:  deg(smp.DMPTaitBryan.Yaw),
		HeadingDeg: heading360(smp.CompassHeading),
		AccelMS2:   [3]float64{smp.Accel.X, smp.Accel.Y, smp.Accel.Z},
		GyroDPS:    [3]float64{smp.Gyro.X, smp.Gyro.Y, smp.Gyro.Z},
		MagUT:      [3]float64{smp.Mag.X, smp.Mag.Y, smp.Mag.Z},
		MagValid:   smp.MagValid,
		TempC:      smp.TempC,
		LastReadOK: ok,
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Stats returns the session counters, or zero before Start succeeds.
func (s *Service) Stats() mpu9250.Stats {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()
	if sess == nil {
		return mpu9250.Stats{}
	}
	return sess.Stats()
}

// Close powers the sensor down and releases the interrupt line and bus.
// It is safe to call more than once.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		for _, c := range s.closers {
			s.closeErr = multierr.Append(s.closeErr, c())
		}
		s.closers = nil
	})
	return s.closeErr
}

// Calibrate runs one calibration routine ("gyro" or "mag") without the
// streaming worker and powers the sensor down afterwards.
func Calibrate(ctx context.Context, cfg Config, kind string, magSamples int) (err error) {
	if cfg.CalibrationDir == "" {
		return fmt.Errorf("ahrs: calibration directory is required")
	}
	bus, err := i2c.Open(cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("ahrs: %w", err)
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	sess, err := mpu9250.Open(cfg.Device, bus, cfg.IMUAddr, nil, calstore.New(cfg.CalibrationDir))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sess.PowerOff()) }()
	return runCalibration(ctx, sess, kind, magSamples)
}

type calibrator interface {
	CalibrateGyro(ctx context.Context) error
	CalibrateMag(ctx context.Context, samples int) error
}

func runCalibration(ctx context.Context, c calibrator, kind string, magSamples int) error {
	switch kind {
	case "gyro":
		log.Printf("ahrs: gyro calibration, keep the sensor still")
		return c.CalibrateGyro(ctx)
	case "mag":
		log.Printf("ahrs: magnetometer calibration, rotate the sensor through every orientation")
		return c.CalibrateMag(ctx, magSamples)
	}
	return fmt.Errorf("ahrs: unknown calibration %q (want gyro or mag)", kind)
}
