package mpu9250

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFIFOOverflow = errors.New("mpu9250: fifo overflow")
	ErrFIFOCount    = errors.New("mpu9250: unexpected fifo count")
)

// fifoPacket is one DMP FIFO record.
type fifoPacket struct {
	hasMag       bool
	magSaturated bool
	mag          [3]int16

	quat  [4]int32
	accel [3]int16
	gyro  [3]int16
}

// packetOffset picks which packet in a burst of count bytes to decode.
// ok is false for any count other than one or two whole packets.
func packetOffset(count, packetLen int) (offset int, ok bool) {
	switch count {
	case packetLen:
		return 0, true
	case 2 * packetLen:
		return packetLen, true
	}
	return 0, false
}

// decodePacket parses b, which must hold exactly one packet. The optional
// magnetometer block is little-endian; everything after it is big-endian.
func decodePacket(b []byte, withMag bool) fifoPacket {
	var p fifoPacket
	i := 0
	if withMag {
		p.hasMag = true
		status := b[6]
		if status&(magOverflow|magStatusTopBit) != 0 {
			p.magSaturated = true
		} else {
			for k := 0; k < 3; k++ {
				p.mag[k] = int16(binary.LittleEndian.Uint16(b[2*k:]))
			}
		}
		i += magBlockLen
	}
	for k := 0; k < 4; k++ {
		p.quat[k] = int32(binary.BigEndian.Uint32(b[i+4*k:]))
	}
	i += 16
	for k := 0; k < 3; k++ {
		p.accel[k] = int16(binary.BigEndian.Uint16(b[i+2*k:]))
	}
	i += 6
	for k := 0; k < 3; k++ {
		p.gyro[k] = int16(binary.BigEndian.Uint16(b[i+2*k:]))
	}
	return p
}

// readRetry performs fn, retrying once on failure.
func readRetry(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func (s *Session) fifoCount() (int, error) {
	var b [2]byte
	err := readRetry(func() error { return s.imu.ReadReg(regFIFOCountH, b[:]) })
	if err != nil {
		return 0, fmt.Errorf("mpu9250: fifo count read: %w", err)
	}
	return int(binary.BigEndian.Uint16(b[:])), nil
}

// readFIFO drains the FIFO and returns the freshest whole packet.
func (s *Session) readFIFO() (fifoPacket, error) {
	plen := s.packetLen
	first := s.firstCycle
	s.firstCycle = false

	count, err := s.fifoCount()
	if err != nil {
		return fifoPacket{}, err
	}

	if count > 2*plen {
		s.warnf("imu: fifo holds %d bytes, resetting", count)
		s.stats.fifoResets.Add(1)
		if err := s.resetFIFO(); err != nil {
			return fifoPacket{}, err
		}
		return fifoPacket{}, fmt.Errorf("%w: %d bytes", ErrFIFOOverflow, count)
	}

	offset, ok := packetOffset(count, plen)
	if !ok {
		// The interrupt can fire slightly before the DMP finishes writing.
		sleep(fifoResetDelay * time.Microsecond)
		if count, err = s.fifoCount(); err != nil {
			return fifoPacket{}, err
		}
		if offset, ok = packetOffset(count, plen); !ok {
			if !first {
				s.warnf("imu: %d bytes in fifo, resetting", count)
				s.stats.fifoResets.Add(1)
				if err := s.resetFIFO(); err != nil {
					return fifoPacket{}, err
				}
			}
			return fifoPacket{}, fmt.Errorf("%w: %d bytes, want %d", ErrFIFOCount, count, plen)
		}
	}
	if offset > 0 {
		s.warnf("imu: fifo contains two packets")
	}

	buf := make([]byte, count)
	if err := readRetry(func() error { return s.imu.ReadReg(regFIFORW, buf) }); err != nil {
		return fifoPacket{}, fmt.Errorf("mpu9250: fifo read: %w", err)
	}
	return decodePacket(buf[offset:offset+plen], s.cfg.EnableMagnetometer), nil
}

// resetFIFO flushes the FIFO and restarts the DMP.
func (s *Session) resetFIFO() error {
	steps := []struct {
		reg, val byte
	}{
		{regIntEnable, 0},
		{regFIFOEn, 0},
		{regUserCtrl, bitFIFORst | bitDMPRst},
	}
	for _, st := range steps {
		if err := s.imu.WriteReg(st.reg, st.val); err != nil {
			return fmt.Errorf("mpu9250: fifo reset: %w", err)
		}
	}
	sleep(fifoResetDelay * time.Microsecond)

	ctrl := byte(bitDMPEn | bitFIFOEn)
	if s.cfg.EnableMagnetometer {
		ctrl |= bitI2CMstEn
	}
	if err := s.imu.WriteReg(regUserCtrl, ctrl); err != nil {
		return fmt.Errorf("mpu9250: fifo reset: %w", err)
	}
	if err := s.imu.WriteReg(regIntEnable, bitDMPIntEn); err != nil {
		return fmt.Errorf("mpu9250: fifo reset: %w", err)
	}
	if s.cfg.EnableMagnetometer {
		if err := s.imu.WriteReg(regFIFOEn, bitSlv0FIFO); err != nil {
			return fmt.Errorf("mpu9250: fifo reset: %w", err)
		}
	}
	return nil
}
