package mpu9250

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
)

var ErrMagSaturated = errors.New("mpu9250: magnetometer saturated")

// InitOneShot configures the sensor for polled reads without the DMP.
func (s *Session) InitOneShot() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateUnconfigured {
		return fmt.Errorf("%w: cannot enter oneshot from %s", ErrState, s.state)
	}
	s.claimBus("oneshot init")
	defer s.bus.Release()
	if err := s.initOneShot(s.cfg.EnableMagnetometer); err != nil {
		return err
	}
	s.state = StateOneShot
	return nil
}

func (s *Session) initOneShot(withMag bool) error {
	s.dmpOn = false
	if err := s.reset(); err != nil {
		return err
	}
	if err := s.checkWhoAmI(); err != nil {
		return err
	}
	s.loadCalibration()
	if err := s.configureSensors(); err != nil {
		return err
	}
	if withMag {
		return s.initMagnetometer()
	}
	if err := s.powerDownMagnetometer(); err != nil {
		s.warnf("imu: magnetometer power down: %v", err)
	}
	return nil
}

func (s *Session) requireOneShot() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateOneShot {
		return fmt.Errorf("%w: polled reads need oneshot mode, session is %s", ErrState, s.state)
	}
	return nil
}

// ReadAccel returns the latest accelerometer reading in m/s².
func (s *Session) ReadAccel() (r3.Vector, [3]int16, error) {
	if err := s.requireOneShot(); err != nil {
		return r3.Vector{}, [3]int16{}, err
	}
	s.bus.Claim()
	defer s.bus.Release()
	raw, err := readVec16BE(s.imu, regAccelXoutH)
	if err != nil {
		return r3.Vector{}, [3]int16{}, fmt.Errorf("mpu9250: accel read failed: %w", err)
	}
	return scaled(raw, s.accelScale), raw, nil
}

// ReadGyro returns the latest gyro reading in deg/s.
func (s *Session) ReadGyro() (r3.Vector, [3]int16, error) {
	if err := s.requireOneShot(); err != nil {
		return r3.Vector{}, [3]int16{}, err
	}
	s.bus.Claim()
	defer s.bus.Release()
	raw, err := readVec16BE(s.imu, regGyroXoutH)
	if err != nil {
		return r3.Vector{}, [3]int16{}, fmt.Errorf("mpu9250: gyro read failed: %w", err)
	}
	return scaled(raw, s.gyroScale), raw, nil
}

// ReadMag returns a calibrated magnetometer reading in µT. fresh is false
// when the AK8963 has no new measurement.
func (s *Session) ReadMag() (v r3.Vector, fresh bool, err error) {
	if err := s.requireOneShot(); err != nil {
		return r3.Vector{}, false, err
	}
	if !s.cfg.EnableMagnetometer {
		return r3.Vector{}, false, fmt.Errorf("mpu9250: magnetometer disabled")
	}
	s.bus.Claim()
	defer s.bus.Release()
	raw, fresh, err := s.readMagRaw()
	if err != nil || !fresh {
		return r3.Vector{}, false, err
	}
	return s.correctMag(raw), true, nil
}

// readMagRaw polls the AK8963 directly (bypass mode).
func (s *Session) readMagRaw() ([3]int16, bool, error) {
	st1, err := s.mag.ReadRegU8(regMagST1)
	if err != nil {
		return [3]int16{}, false, fmt.Errorf("mpu9250: mag status read failed: %w", err)
	}
	if st1&magDataReady == 0 {
		return [3]int16{}, false, nil
	}
	// Reading through ST2 releases the data registers for the next sample.
	var b [magBlockLen]byte
	if err := s.mag.ReadReg(regMagXoutL, b[:]); err != nil {
		return [3]int16{}, false, fmt.Errorf("mpu9250: mag read failed: %w", err)
	}
	if b[6]&magOverflow != 0 {
		return [3]int16{}, false, ErrMagSaturated
	}
	var raw [3]int16
	for i := range raw {
		raw[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return raw, true, nil
}

// ReadTemp returns the die temperature in °C. It works in oneshot and
// streaming mode.
func (s *Session) ReadTemp() (float64, error) {
	st := s.State()
	if st != StateOneShot && st != StateStreaming {
		return 0, fmt.Errorf("%w: temperature unavailable in %s", ErrState, st)
	}
	s.bus.Claim()
	defer s.bus.Release()
	var b [2]byte
	if err := s.imu.ReadReg(regTempOutH, b[:]); err != nil {
		return 0, fmt.Errorf("mpu9250: temp read failed: %w", err)
	}
	raw := int16(binary.BigEndian.Uint16(b[:]))
	c := float64(raw)/tempSensitivity + tempOffsetC

	s.mu.Lock()
	s.sample.TempC = c
	s.mu.Unlock()
	return c, nil
}
