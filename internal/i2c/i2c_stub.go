//go:build !linux

package i2c

import "errors"

var errUnsupported = errors.New("i2c: /dev/i2c-* transfers need linux")

// Bus on other platforms only arbitrates ownership; it never opens.
type Bus struct {
	owner claim
}

type Dev struct{}

func Open(path string) (*Bus, error) { return nil, errUnsupported }

func (b *Bus) Close() error         { return nil }
func (b *Bus) Path() string         { return "" }
func (b *Bus) Claim()               { b.owner.claim() }
func (b *Bus) TryClaim() bool       { return b.owner.tryClaim() }
func (b *Bus) Release()             { b.owner.release() }
func (b *Bus) Claimed() bool        { return b.owner.held() }
func (b *Bus) Dev(addr uint16) *Dev { return &Dev{} }

func (d *Dev) Write(p []byte) error                  { return errUnsupported }
func (d *Dev) Read(p []byte) error                   { return errUnsupported }
func (d *Dev) WriteRead(w, r []byte) error           { return errUnsupported }
func (d *Dev) ReadReg(reg byte, dst []byte) error    { return errUnsupported }
func (d *Dev) ReadRegU8(reg byte) (byte, error)      { return 0, errUnsupported }
func (d *Dev) WriteReg(reg, value byte) error        { return errUnsupported }
func (d *Dev) WriteRegs(reg byte, data []byte) error { return errUnsupported }
