package mpu9250

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeI2C struct {
	mu sync.Mutex

	regs   map[byte][]byte
	writes []writeOp

	// queued[reg] is consumed one entry per read before falling back to regs.
	queued map[byte][][]byte
	// failReads[reg] makes the next n reads of reg fail.
	failReads map[byte]int
	// mem backs DMP memory so firmware verification can read back.
	mem     map[uint16]byte
	memAddr uint16
}

type writeOp struct {
	reg  byte
	data []byte
}

func newFakeI2C() *fakeI2C {
	return &fakeI2C{
		regs:      map[byte][]byte{regWhoAmI: {whoAmIVal}},
		queued:    map[byte][][]byte{},
		failReads: map[byte]int{},
		mem:       map[uint16]byte{},
	}
}

var errFakeRead = errors.New("fake read error")

func (f *fakeI2C) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := f.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReads[reg] > 0 {
		f.failReads[reg]--
		return errFakeRead
	}
	if reg == regMemRW {
		for i := range dst {
			dst[i] = f.mem[f.memAddr+uint16(i)]
		}
		return nil
	}
	b := f.regs[reg]
	if q := f.queued[reg]; len(q) > 0 {
		b = q[0]
		f.queued[reg] = q[1:]
	}
	if len(b) < len(dst) {
		return errors.New("short reg")
	}
	copy(dst, b[:len(dst)])
	return nil
}

func (f *fakeI2C) WriteReg(reg, value byte) error {
	return f.WriteRegs(reg, []byte{value})
}

func (f *fakeI2C) WriteRegs(reg byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writeOp{reg: reg, data: append([]byte(nil), data...)})
	switch reg {
	case regBankSel:
		if len(data) == 2 {
			f.memAddr = uint16(data[0])<<8 | uint16(data[1])
		}
	case regMemRW:
		for i, b := range data {
			f.mem[f.memAddr+uint16(i)] = b
		}
	}
	return nil
}

func (f *fakeI2C) wrote(reg byte, data ...byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.writes {
		if w.reg == reg && string(w.data) == string(data) {
			return true
		}
	}
	return false
}

func (f *fakeI2C) resetWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

func (f *fakeI2C) setFIFO(count int, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var c [2]byte
	binary.BigEndian.PutUint16(c[:], uint16(count))
	f.regs[regFIFOCountH] = c[:]
	f.regs[regFIFORW] = data
}

func (f *fakeI2C) queueCount(counts ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range counts {
		var c [2]byte
		binary.BigEndian.PutUint16(c[:], uint16(n))
		f.queued[regFIFOCountH] = append(f.queued[regFIFOCountH], c[:])
	}
}

// rawPacket encodes one DMP FIFO packet. mag is written only when withMag.
type rawPacket struct {
	withMag   bool
	mag       [3]int16
	magStatus byte
	quat      [4]int32
	accel     [3]int16
	gyro      [3]int16
}

func (p rawPacket) bytes() []byte {
	var b []byte
	if p.withMag {
		for _, v := range p.mag {
			b = binary.LittleEndian.AppendUint16(b, uint16(v))
		}
		b = append(b, p.magStatus)
	}
	for _, v := range p.quat {
		b = binary.BigEndian.AppendUint32(b, uint32(v))
	}
	for _, v := range p.accel {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	for _, v := range p.gyro {
		b = binary.BigEndian.AppendUint16(b, uint16(v))
	}
	return b
}

// identityQuat is a unit quaternion in the DMP's Q30 format.
var identityQuat = [4]int32{1 << 30, 0, 0, 0}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	old := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = old })
	return &slept
}

// streamingSession returns a session wired to f as if StartStreaming had
// completed, without running the setup sequence.
func streamingSession(t *testing.T, cfg Config, f *fakeI2C) *Session {
	t.Helper()
	s, err := New(cfg, Devices{IMU: f, Mag: f})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.packetLen = cfg.packetLen()
	s.fusion = newYawFusion(cfg)
	s.firstCycle = true
	s.accelScale = cfg.accelScale()
	s.gyroScale = cfg.gyroScale()
	s.state = StateStreaming
	return s
}
