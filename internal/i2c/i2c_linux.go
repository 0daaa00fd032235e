//go:build linux

package i2c

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// I2C_RDWR issues the register address write and the data read as one
// combined transfer with a repeated start, which the MPU-9250 and the AK8963
// behind it both require.
const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707

	maxTransfer = 0xFFFF
)

type msg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened I2C bus such as /dev/i2c-2. Any number of Dev handles
// may share it. Transfers are not serialized by the Bus; consumers that share
// it bracket their transactions with Claim and Release.
type Bus struct {
	f    *os.File
	path string

	owner claim
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	if err != nil {
		return fmt.Errorf("i2c: close %s: %w", b.path, err)
	}
	return nil
}

func (b *Bus) Path() string { return b.path }

// Claim blocks until the caller owns the bus.
func (b *Bus) Claim() { b.owner.claim() }

// TryClaim takes ownership only if the bus is free.
func (b *Bus) TryClaim() bool { return b.owner.tryClaim() }

func (b *Bus) Release() { b.owner.release() }

// Claimed reports whether some consumer currently owns the bus.
func (b *Bus) Claimed() bool { return b.owner.held() }

func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

// Dev is one 7-bit address on a Bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Write(p []byte) error        { return d.tx(p, nil) }
func (d *Dev) Read(p []byte) error         { return d.tx(nil, p) }
func (d *Dev) WriteRead(w, r []byte) error { return d.tx(w, r) }

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.tx([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.tx([]byte{reg, value}, nil)
}

// WriteRegs writes data starting at reg in a single transfer; the device
// auto-increments the register address.
func (d *Dev) WriteRegs(reg byte, data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, reg)
	buf = append(buf, data...)
	return d.tx(buf, nil)
}

func checkAddr(addr uint16) error {
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("i2c: invalid address 0x%X", addr)
	}
	return nil
}

// buildMsgs lays out the write then read halves of a combined transfer.
// The returned messages point into w and r.
func buildMsgs(addr uint16, w, r []byte) ([]msg, error) {
	if len(w) > maxTransfer || len(r) > maxTransfer {
		return nil, fmt.Errorf("i2c: transfer too long (write %d, read %d bytes)", len(w), len(r))
	}
	msgs := make([]msg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, msg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, msg{addr: addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	return msgs, nil
}

func (d *Dev) tx(w, r []byte) error {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return fmt.Errorf("i2c: device is not open")
	}
	if err := checkAddr(d.addr); err != nil {
		return err
	}
	msgs, err := buildMsgs(d.addr, w, r)
	if err != nil || len(msgs) == 0 {
		return err
	}

	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	// The kernel reads the buffers through the uintptr copies above.
	runtime.KeepAlive(w)
	runtime.KeepAlive(r)
	runtime.KeepAlive(msgs)
	if errno != 0 {
		return fmt.Errorf("i2c: %s addr 0x%02X: %w", d.bus.path, d.addr, errno)
	}
	return nil
}
