package mpu9250

import (
	"bytes"
	"fmt"
)

// writeMem writes data into DMP memory at addr (bank<<8 | offset). A single
// write may not cross a bank boundary.
func (s *Session) writeMem(addr uint16, data []byte) error {
	if int(addr&0xFF)+len(data) > dmpBankSize {
		return fmt.Errorf("mpu9250: dmp write of %d bytes at 0x%04X crosses bank", len(data), addr)
	}
	if err := s.imu.WriteRegs(regBankSel, []byte{byte(addr >> 8), byte(addr)}); err != nil {
		return fmt.Errorf("mpu9250: dmp bank select: %w", err)
	}
	if err := s.imu.WriteRegs(regMemRW, data); err != nil {
		return fmt.Errorf("mpu9250: dmp write 0x%04X: %w", addr, err)
	}
	return nil
}

func (s *Session) readMem(addr uint16, dst []byte) error {
	if int(addr&0xFF)+len(dst) > dmpBankSize {
		return fmt.Errorf("mpu9250: dmp read of %d bytes at 0x%04X crosses bank", len(dst), addr)
	}
	if err := s.imu.WriteRegs(regBankSel, []byte{byte(addr >> 8), byte(addr)}); err != nil {
		return fmt.Errorf("mpu9250: dmp bank select: %w", err)
	}
	if err := s.imu.ReadReg(regMemRW, dst); err != nil {
		return fmt.Errorf("mpu9250: dmp read 0x%04X: %w", addr, err)
	}
	return nil
}

// loadFirmware uploads the DMP image in verified chunks and sets the program
// start address.
func (s *Session) loadFirmware(image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("mpu9250: dmp firmware image is empty")
	}
	if len(image) > 0xFFFF {
		return fmt.Errorf("mpu9250: dmp firmware image too large (%d bytes)", len(image))
	}
	cur := make([]byte, dmpChunkSize)
	for off := 0; off < len(image); off += dmpChunkSize {
		end := off + dmpChunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[off:end]
		if err := s.writeMem(uint16(off), chunk); err != nil {
			return err
		}
		if err := s.readMem(uint16(off), cur[:len(chunk)]); err != nil {
			return err
		}
		if !bytes.Equal(chunk, cur[:len(chunk)]) {
			return fmt.Errorf("mpu9250: dmp firmware verify failed at 0x%04X", off)
		}
	}
	if err := s.imu.WriteRegs(regPrgmStartH, []byte{dmpStartAddr >> 8, dmpStartAddr & 0xFF}); err != nil {
		return fmt.Errorf("mpu9250: dmp start address: %w", err)
	}
	return nil
}

// setOrientation pushes the chip-to-body axis mapping and signs.
func (s *Session) setOrientation(o Orientation) error {
	gyroAxes := [3]byte{dina4C, dinaCD, dina6C}
	accelAxes := [3]byte{dina0C, dinaC9, dina2C}
	v := uint16(o)

	var gyro, accel [3]byte
	for i := 0; i < 3; i++ {
		idx := (v >> (3 * i)) & 3
		gyro[i] = gyroAxes[idx]
		accel[i] = accelAxes[idx]
	}
	if err := s.writeMem(dmpFCfg1, gyro[:]); err != nil {
		return err
	}
	if err := s.writeMem(dmpFCfg2, accel[:]); err != nil {
		return err
	}

	gyro = [3]byte{dina36, dina56, dina76}
	accel = [3]byte{dina26, dina46, dina66}
	for i, bit := range []uint16{0x004, 0x020, 0x100} {
		if v&bit != 0 {
			gyro[i] |= 1
			accel[i] |= 1
		}
	}
	if err := s.writeMem(dmpFCfg3, gyro[:]); err != nil {
		return err
	}
	return s.writeMem(dmpFCfg7, accel[:])
}

// enableFeatures turns on the 6-axis low-power quaternion with raw accel and
// gyro in the FIFO. Gyro auto-calibration, tap and android orientation stay
// off.
func (s *Session) enableFeatures() error {
	sf := uint32(dmpGyroSF)
	writes := []struct {
		addr uint16
		data []byte
	}{
		{dmpD0104, []byte{byte(sf >> 24), byte(sf >> 16), byte(sf >> 8), byte(sf)}},
		{dmpCfg15, []byte{dinaA3, dinbC0, dinbC8, dinbC2, dinbC4, dinbCC, dinbC6, dinaA3, dinaA3, dinaA3}},
		{dmpCfg27, []byte{dinaD8}},
		{dmpCfgMotionBias, []byte{0xb8, 0xaa, 0xaa, 0xaa, 0xb0, 0x88, 0xc3, 0xc5, 0xc7}},
		{dmpCfgGyroRawData, []byte{dinaC0, dina80, dinaC2, dina90}},
		{dmpCfg20, []byte{dinaD8}},
		{dmpCfgAndroidOrientInt, []byte{dinaD8}},
		{dmpCfgLPQuat, []byte{dinb8B, dinb8B, dinb8B, dinb8B}},
		{dmpCfg8, []byte{dina20, dina28, dina30, dina38}},
	}
	for _, w := range writes {
		if err := s.writeMem(w.addr, w.data); err != nil {
			return err
		}
	}
	return s.resetFIFO()
}

// setFIFORate sets the sensor divider for rate and runs the DMP at the same
// rate as the FIFO.
func (s *Session) setFIFORate(rate int) error {
	if rate <= 0 || rate > dmpSampleRate {
		return fmt.Errorf("%w: %d Hz", ErrSampleRate, rate)
	}
	if err := s.imu.WriteReg(regSmplrtDiv, byte(1000/rate-1)); err != nil {
		return fmt.Errorf("mpu9250: sample rate: %w", err)
	}
	if err := s.writeMem(dmpD022, []byte{0, 0}); err != nil {
		return err
	}
	end := []byte{dinaFE, dinaF2, dinaAB, 0xc4, dinaAA, dinaF1, dinaDF, dinaDF, 0xbb, 0xaf, dinaDF, dinaDF}
	return s.writeMem(dmpCfg6, end)
}

// setContinuousInterrupt makes the DMP raise an interrupt for every FIFO
// packet.
func (s *Session) setContinuousInterrupt() error {
	return s.writeMem(dmpCfgFIFOOnEvent, []byte{0xd8, 0xb1, 0xb9, 0xf3, 0x8b, 0xa3, 0x91, 0xb6, 0x09, 0xb4, 0xd9})
}

// enableDMP leaves bypass, re-applies the sample rate and arms the DMP
// interrupt.
func (s *Session) enableDMP() error {
	if err := s.imu.WriteReg(regIntEnable, 0); err != nil {
		return fmt.Errorf("mpu9250: disable interrupts: %w", err)
	}
	if err := s.setBypass(false); err != nil {
		return err
	}
	if err := s.imu.WriteReg(regSmplrtDiv, byte(1000/s.cfg.SampleRate-1)); err != nil {
		return fmt.Errorf("mpu9250: sample rate: %w", err)
	}
	if err := s.imu.WriteReg(regFIFOEn, 0); err != nil {
		return fmt.Errorf("mpu9250: fifo enable: %w", err)
	}
	if err := s.imu.WriteReg(regIntEnable, bitDMPIntEn); err != nil {
		return fmt.Errorf("mpu9250: dmp interrupt: %w", err)
	}
	return s.resetFIFO()
}

// routeMagToFIFO has the MPU's I2C master copy the AK8963 data block into
// the FIFO ahead of each DMP packet.
func (s *Session) routeMagToFIFO() error {
	writes := []struct{ reg, val byte }{
		{regFIFOEn, bitSlv0FIFO},
		{regI2CMstCtrl, i2cMstCtrlDMP},
		{regI2CSlv0Addr, i2cSlv0ReadMag},
		{regI2CSlv0Reg, regMagXoutL},
		{regI2CSlv0Ctrl, i2cSlv0Ctrl7},
	}
	for _, w := range writes {
		if err := s.imu.WriteReg(w.reg, w.val); err != nil {
			return fmt.Errorf("mpu9250: mag fifo routing: %w", err)
		}
	}
	return nil
}
