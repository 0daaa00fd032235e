package mpu9250

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/golang/geo/r3"
)

const (
	bitLatchInt    = 0x20
	bitIntAnyRdClr = 0x10
)

func (s *Session) reset() error {
	if err := s.imu.WriteReg(regPwrMgmt1, bitHReset); err != nil {
		return fmt.Errorf("mpu9250: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	if err := s.imu.WriteReg(regPwrMgmt1, 0x00); err != nil {
		return fmt.Errorf("mpu9250: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)
	return nil
}

func (s *Session) checkWhoAmI() error {
	who, err := s.imu.ReadRegU8(regWhoAmI)
	if err != nil {
		return fmt.Errorf("mpu9250: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("mpu9250: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}
	return nil
}

// configureSensors applies full-scale ranges and filter bandwidths.
func (s *Session) configureSensors() error {
	if err := s.imu.WriteReg(regGyroConfig, byte(s.cfg.GyroFSR)<<3); err != nil {
		return fmt.Errorf("mpu9250: gyro config failed: %w", err)
	}
	if err := s.imu.WriteReg(regAccelConfig, byte(s.cfg.AccelFSR)<<3); err != nil {
		return fmt.Errorf("mpu9250: accel config failed: %w", err)
	}

	gyro := dlpfBits(s.cfg.GyroDLPF)
	if s.cfg.GyroDLPF == DLPFOff {
		gyro = 7
	}
	if err := s.imu.WriteReg(regConfig, gyro); err != nil {
		return fmt.Errorf("mpu9250: gyro dlpf failed: %w", err)
	}

	accel := dlpfBits(s.cfg.AccelDLPF) | bitFIFOSize1024
	if s.cfg.AccelDLPF == DLPFOff {
		accel = bitAccelFChoiceB | bitFIFOSize1024
	}
	if err := s.imu.WriteReg(regAccelConfig2, accel); err != nil {
		return fmt.Errorf("mpu9250: accel dlpf failed: %w", err)
	}

	s.accelScale = s.cfg.accelScale()
	s.gyroScale = s.cfg.gyroScale()
	return nil
}

func (s *Session) setSampleRate(rate int) error {
	if rate < 4 || rate > 1000 {
		return fmt.Errorf("%w: %d Hz", ErrSampleRate, rate)
	}
	if err := s.imu.WriteReg(regSmplrtDiv, byte(1000/rate-1)); err != nil {
		return fmt.Errorf("mpu9250: sample rate: %w", err)
	}
	return nil
}

// setBypass connects (or disconnects) the AK8963 directly to the host bus.
func (s *Session) setBypass(on bool) error {
	var ctrl byte
	if s.dmpOn {
		ctrl |= bitFIFOEn
	}
	if !on {
		ctrl |= bitI2CMstEn
	}
	if err := s.imu.WriteReg(regUserCtrl, ctrl); err != nil {
		return fmt.Errorf("mpu9250: user ctrl: %w", err)
	}
	sleep(3 * time.Millisecond)

	pin := byte(bitLatchInt | bitIntAnyRdClr | bitActiveLow)
	if on {
		pin |= bitBypassEn
	}
	if err := s.imu.WriteReg(regIntPinCfg, pin); err != nil {
		return fmt.Errorf("mpu9250: int pin cfg: %w", err)
	}
	return nil
}

// initMagnetometer reads the factory sensitivity adjustment and starts
// continuous 16-bit sampling at 100 Hz. Bypass is left on.
func (s *Session) initMagnetometer() error {
	if s.mag == nil {
		return fmt.Errorf("mpu9250: magnetometer device not available")
	}
	if err := s.setBypass(true); err != nil {
		return err
	}
	if err := s.mag.WriteReg(regMagCntl, magPowerDown); err != nil {
		return fmt.Errorf("mpu9250: mag power down: %w", err)
	}
	sleep(time.Millisecond)
	if err := s.mag.WriteReg(regMagCntl, magFuseROM); err != nil {
		return fmt.Errorf("mpu9250: mag fuse rom: %w", err)
	}
	sleep(time.Millisecond)

	var asa [3]byte
	if err := s.mag.ReadReg(regMagASAX, asa[:]); err != nil {
		_ = s.setBypass(false)
		return fmt.Errorf("mpu9250: mag adjustment read: %w", err)
	}
	for i, v := range asa {
		s.magAdjust[i] = (float64(v)-128)/256 + 1
	}

	if err := s.mag.WriteReg(regMagCntl, magPowerDown); err != nil {
		return fmt.Errorf("mpu9250: mag power down: %w", err)
	}
	sleep(100 * time.Microsecond)
	if err := s.mag.WriteReg(regMagCntl, magOutput16Bit|magContMeas2); err != nil {
		return fmt.Errorf("mpu9250: mag start: %w", err)
	}
	sleep(100 * time.Microsecond)
	return nil
}

func (s *Session) powerDownMagnetometer() error {
	if s.mag == nil {
		return nil
	}
	if err := s.setBypass(true); err != nil {
		return err
	}
	if err := s.mag.WriteReg(regMagCntl, magPowerDown); err != nil {
		return fmt.Errorf("mpu9250: mag power down: %w", err)
	}
	return s.setBypass(false)
}

func readVec16BE(dev RegIO, reg byte) ([3]int16, error) {
	var b [6]byte
	if err := dev.ReadReg(reg, b[:]); err != nil {
		return [3]int16{}, err
	}
	var v [3]int16
	for i := range v {
		v[i] = int16(binary.BigEndian.Uint16(b[2*i:]))
	}
	return v, nil
}

func scaled(raw [3]int16, k float64) r3.Vector {
	return r3.Vector{X: float64(raw[0]) * k, Y: float64(raw[1]) * k, Z: float64(raw[2]) * k}
}

// correctMag applies factory adjustment, the axis swap and the loaded
// calibration.
func (s *Session) correctMag(raw [3]int16) r3.Vector {
	f := s.factoryMag(raw)
	off := s.cal.MagOffset
	sc := s.cal.EffectiveScale()
	return r3.Vector{
		X: (f.X - off.X) * sc.X,
		Y: (f.Y - off.Y) * sc.Y,
		Z: (f.Z - off.Z) * sc.Z,
	}
}
