package mpu9250

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"dmpimu/internal/ellipsoid"
)

var ErrFitRejected = errors.New("mpu9250: magnetometer fit rejected")

const (
	// Fitted ellipsoids are scaled onto a sphere of this radius (µT).
	magReferenceField = 70.0
	magMaxCenter      = 70.0
	magMinLength      = 5.0
	magMaxLength      = 140.0

	magCalRateHz = 20

	// DefaultMagSamples is how many points the magnetometer routine collects.
	DefaultMagSamples = 200
)

// applyGyroBias writes the hardware offset registers. They hold the
// negated bias at ±1000 dps scale, so the ±250 dps average is divided by 4.
func (s *Session) applyGyroBias(bias [3]int32) error {
	var b [6]byte
	for i, v := range bias {
		r := int16(-v / 4)
		binary.BigEndian.PutUint16(b[2*i:], uint16(r))
	}
	if err := s.imu.WriteRegs(regXGOffsetH, b[:]); err != nil {
		return fmt.Errorf("mpu9250: gyro offset write: %w", err)
	}
	return nil
}

func (s *Session) beginCalibration() error {
	if s.store == nil {
		return fmt.Errorf("mpu9250: calibration store is not configured")
	}
	switch s.state {
	case StateUnconfigured, StateOneShot:
		return nil
	}
	return fmt.Errorf("%w: cannot calibrate while %s", ErrState, s.state)
}

// CalibrateGyro samples the stationary gyro through the FIFO for 0.4 s,
// averages it, writes the offset registers and persists the result. The
// device is left unconfigured.
func (s *Session) CalibrateGyro(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err := s.beginCalibration(); err != nil {
		return err
	}
	s.claimBus("gyro calibration")
	defer s.bus.Release()
	s.state = StateUnconfigured

	bias, err := s.sampleGyroBias(ctx)
	if err != nil {
		return err
	}
	if err := s.store.SaveGyro(bias); err != nil {
		return err
	}
	s.cal.GyroBias = bias
	if err := s.applyGyroBias(bias); err != nil {
		return err
	}
	log.Printf("imu: gyro calibration saved: %v", bias)
	return nil
}

func (s *Session) sampleGyroBias(ctx context.Context) ([3]int32, error) {
	var zero [3]int32
	if err := s.reset(); err != nil {
		return zero, err
	}
	if err := s.checkWhoAmI(); err != nil {
		return zero, err
	}

	type step struct {
		reg, val byte
		wait     time.Duration
	}
	steps := []step{
		{reg: regPwrMgmt1, val: 0x01},
		{reg: regPwrMgmt2, val: 0x00, wait: 200 * time.Millisecond},
		{reg: regIntEnable, val: 0x00},
		{reg: regFIFOEn, val: 0x00},
		{reg: regPwrMgmt1, val: 0x00},
		{reg: regI2CMstCtrl, val: 0x00},
		{reg: regUserCtrl, val: 0x00},
		{reg: regUserCtrl, val: bitFIFORst | bitDMPRst, wait: 15 * time.Millisecond},
		// 188 Hz DLPF, 200 Hz sampling, ±250 dps, ±2 g.
		{reg: regConfig, val: 0x01},
		{reg: regSmplrtDiv, val: 0x04},
		{reg: regGyroConfig, val: 0x00},
		{reg: regAccelConfig, val: 0x00},
		{reg: regUserCtrl, val: bitFIFOEn},
		{reg: regFIFOEn, val: bitGyroXYZFIFO, wait: 400 * time.Millisecond},
		{reg: regFIFOEn, val: 0x00},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if err := s.imu.WriteReg(st.reg, st.val); err != nil {
			return zero, fmt.Errorf("mpu9250: gyro calibration setup (reg 0x%02X): %w", st.reg, err)
		}
		if st.wait > 0 {
			sleep(st.wait)
		}
	}

	count, err := s.fifoCount()
	if err != nil {
		return zero, err
	}
	n := count / 6
	if n == 0 {
		return zero, fmt.Errorf("mpu9250: gyro calibration collected no samples")
	}

	var sum [3]int32
	for i := 0; i < n; i++ {
		v, err := readVec16BE(s.imu, regFIFORW)
		if err != nil {
			return zero, fmt.Errorf("mpu9250: gyro calibration fifo read: %w", err)
		}
		for k := range sum {
			sum[k] += int32(v[k])
		}
	}
	var bias [3]int32
	for k := range sum {
		bias[k] = sum[k] / int32(n)
	}
	return bias, nil
}

// CalibrateMag collects samples while the sensor is rotated through every
// orientation, fits an ellipsoid and persists offset and scale. A rejected
// fit leaves the stored calibration untouched. The session is left in
// oneshot mode with the magnetometer running.
func (s *Session) CalibrateMag(ctx context.Context, samples int) error {
	if samples <= 0 {
		samples = DefaultMagSamples
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if err := s.beginCalibration(); err != nil {
		return err
	}
	if s.mag == nil {
		return fmt.Errorf("mpu9250: magnetometer device not available")
	}

	s.claimBus("mag calibration")
	s.state = StateUnconfigured
	if err := s.initOneShot(true); err != nil {
		s.bus.Release()
		return err
	}
	s.state = StateOneShot
	pts, err := s.collectMag(ctx, samples)
	s.bus.Release()
	if err != nil {
		return err
	}
	return s.saveMagFit(pts)
}

func (s *Session) collectMag(ctx context.Context, samples int) ([]r3.Vector, error) {
	pts := make([]r3.Vector, 0, samples)
	for len(pts) < samples {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("mpu9250: mag calibration aborted after %d samples: %w", len(pts), err)
		}
		raw, fresh, err := s.readMagRaw()
		if err != nil && !errors.Is(err, ErrMagSaturated) {
			return nil, err
		}
		if err == nil && fresh {
			if raw == [3]int16{} {
				return nil, fmt.Errorf("mpu9250: magnetometer returned all zeros")
			}
			pts = append(pts, s.factoryMag(raw))
			if len(pts)%magCalRateHz == 0 {
				log.Printf("imu: mag calibration %d/%d, keep spinning", len(pts), samples)
			}
		}
		sleep(time.Second / magCalRateHz)
	}
	return pts, nil
}

// saveMagFit fits pts and persists the result if it is plausible.
func (s *Session) saveMagFit(pts []r3.Vector) error {
	center, lengths, err := ellipsoid.Fit(pts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFitRejected, err)
	}
	if err := checkMagFit(center, lengths); err != nil {
		return err
	}
	scale := r3.Vector{
		X: magReferenceField / lengths.X,
		Y: magReferenceField / lengths.Y,
		Z: magReferenceField / lengths.Z,
	}
	if err := s.store.SaveMag(center, scale); err != nil {
		return err
	}
	s.cal.MagOffset = center
	s.cal.MagScale = scale
	log.Printf("imu: mag calibration saved: offset=%v scale=%v", center, scale)
	return nil
}

func checkMagFit(center, lengths r3.Vector) error {
	for i, c := range [3]float64{center.X, center.Y, center.Z} {
		if math.Abs(c) > magMaxCenter {
			return fmt.Errorf("%w: center[%d]=%.2f µT out of bounds", ErrFitRejected, i, c)
		}
	}
	for i, l := range [3]float64{lengths.X, lengths.Y, lengths.Z} {
		if l < magMinLength || l > magMaxLength {
			return fmt.Errorf("%w: length[%d]=%.2f µT out of bounds", ErrFitRejected, i, l)
		}
	}
	return nil
}

// factoryMag converts raw AK8963 counts to µT in the MPU axis frame without
// user calibration.
func (s *Session) factoryMag(raw [3]int16) r3.Vector {
	a := s.magAdjust
	return r3.Vector{
		X: float64(raw[1]) * a[1] * magRawToMicroTesla,
		Y: float64(raw[0]) * a[0] * magRawToMicroTesla,
		Z: -float64(raw[2]) * a[2] * magRawToMicroTesla,
	}
}
