// Package mpu9250 drives an MPU-9250 in DMP mode: it uploads and configures
// the motion processor, services its FIFO from an interrupt-driven worker,
// and fuses magnetometer heading into the DMP's yaw.
package mpu9250

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"dmpimu/internal/calstore"
	"dmpimu/internal/gpio"
	"dmpimu/internal/i2c"
)

var sleep = time.Sleep

var (
	edgeTimeout = 300 * time.Millisecond
	joinTimeout = time.Second
)

type State int

const (
	StateUnconfigured State = iota
	StateOneShot
	StateStreaming
	StatePoweredDown
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateOneShot:
		return "oneshot"
	case StateStreaming:
		return "streaming"
	case StatePoweredDown:
		return "powered_down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrState = errors.New("mpu9250: invalid session state")

// RegIO is register access to one device on the bus.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
	WriteRegs(reg byte, data []byte) error
}

// BusOwner arbitrates the bus between the worker and other consumers.
type BusOwner interface {
	Claim()
	Release()
	Claimed() bool
}

// Edge blocks until the sensor's interrupt line falls or timeout passes.
type Edge interface {
	Wait(timeout time.Duration) (bool, error)
}

// Devices are the collaborators a session drives. Mag is the AK8963 as seen
// in bypass mode. Store may be nil, in which case identity calibration is
// used and calibration routines are unavailable.
type Devices struct {
	IMU   RegIO
	Mag   RegIO
	Bus   BusOwner
	Edge  Edge
	Store *calstore.Store
}

// Stats are cumulative worker counters.
type Stats struct {
	Cycles         uint64
	Failures       uint64
	FIFOResets     uint64
	FIFOErrors     uint64
	BadQuaternions uint64
	MagSaturated   uint64
	FusionUpdates  uint64
	FusionErrors   uint64
}

type counters struct {
	cycles         atomic.Uint64
	failures       atomic.Uint64
	fifoResets     atomic.Uint64
	fifoErrors     atomic.Uint64
	badQuaternions atomic.Uint64
	magSaturated   atomic.Uint64
	fusionUpdates  atomic.Uint64
	fusionErrors   atomic.Uint64
}

type noBus struct{}

func (noBus) Claim()        {}
func (noBus) Release()      {}
func (noBus) Claimed() bool { return false }

// Session owns one sensor: its configuration, calibration, the latest sample
// and the streaming worker. Configuration and calibration are fixed once the
// session leaves UNCONFIGURED.
type Session struct {
	cfg   Config
	imu   RegIO
	mag   RegIO
	bus   BusOwner
	edge  Edge
	store *calstore.Store

	stateMu sync.Mutex
	state   State

	cal        calstore.Profile
	magAdjust  [3]float64
	accelScale float64
	gyroScale  float64
	dmpOn      bool
	packetLen  int
	firstCycle bool
	fusion     *yawFusion

	mu     sync.RWMutex
	sample Sample

	callback   atomic.Pointer[func()]
	lastReadOK atomic.Bool
	lastEdgeNs atomic.Int64
	stats      counters

	stopping atomic.Bool
	done     chan struct{}
}

// Open builds a session on a Linux bus. edge may be nil for one-shot use.
func Open(cfg Config, bus *i2c.Bus, addr uint16, edge *gpio.Edge, store *calstore.Store) (*Session, error) {
	if bus == nil {
		return nil, fmt.Errorf("mpu9250: bus is nil")
	}
	if addr == 0 {
		addr = addrDefault
	}
	d := Devices{IMU: bus.Dev(addr), Mag: bus.Dev(addrMag), Bus: bus, Store: store}
	if edge != nil {
		d.Edge = edge
	}
	return New(cfg, d)
}

func New(cfg Config, d Devices) (*Session, error) {
	if d.IMU == nil {
		return nil, fmt.Errorf("mpu9250: imu device is nil")
	}
	s := &Session{
		cfg:       cfg,
		imu:       d.IMU,
		mag:       d.Mag,
		bus:       d.Bus,
		edge:      d.Edge,
		store:     d.Store,
		cal:       calstore.Identity(),
		magAdjust: [3]float64{1, 1, 1},
		packetLen: cfg.packetLen(),
	}
	if s.bus == nil {
		s.bus = noBus{}
	}
	return s, nil
}

func DefaultAddress() uint16 { return addrDefault }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Calibration returns the profile loaded when the session was configured.
func (s *Session) Calibration() calstore.Profile {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.cal
}

func (s *Session) warnf(format string, args ...any) {
	if s.cfg.ShowWarnings {
		log.Printf(format, args...)
	}
}

// claimBus takes the bus, noting contention first.
func (s *Session) claimBus(who string) {
	if s.bus.Claimed() {
		s.warnf("imu: %s: i2c bus claimed by another consumer, waiting", who)
	}
	s.bus.Claim()
}

// loadCalibration reads persisted records and applies the gyro bias to the
// device. Missing records fall back to identity correction.
func (s *Session) loadCalibration() {
	s.cal = calstore.Identity()
	if s.store == nil {
		log.Printf("imu: no calibration store configured, using identity calibration")
		return
	}
	p, errs := s.store.Load()
	for _, err := range errs {
		log.Printf("imu: calibration: %v (falling back to identity)", err)
	}
	s.cal = p
	if err := s.applyGyroBias(p.GyroBias); err != nil {
		log.Printf("imu: applying gyro bias: %v", err)
	}
}

// StartStreaming configures the DMP and starts the interrupt worker.
// firmware is the DMP image uploaded to the motion processor. The worker
// runs until ctx is done or PowerOff is called.
func (s *Session) StartStreaming(ctx context.Context, firmware []byte) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != StateUnconfigured {
		return fmt.Errorf("%w: cannot start streaming from %s", ErrState, s.state)
	}
	if s.edge == nil {
		return fmt.Errorf("mpu9250: interrupt edge is required for streaming")
	}

	s.claimBus("start")
	err := s.setupDMP(firmware)
	s.bus.Release()
	if err != nil {
		return err
	}

	s.packetLen = s.cfg.packetLen()
	s.fusion = newYawFusion(s.cfg)
	s.firstCycle = true
	s.stopping.Store(false)
	s.done = make(chan struct{})
	s.state = StateStreaming
	go s.run(ctx)
	return nil
}

func (s *Session) setupDMP(firmware []byte) error {
	s.dmpOn = false
	if err := s.reset(); err != nil {
		return err
	}
	if err := s.checkWhoAmI(); err != nil {
		return err
	}
	s.loadCalibration()
	s.dmpOn = true

	if err := s.configureSensors(); err != nil {
		return err
	}
	if err := s.setSampleRate(s.cfg.SampleRate); err != nil {
		return err
	}
	if s.cfg.EnableMagnetometer {
		if err := s.initMagnetometer(); err != nil {
			return err
		}
	} else if err := s.powerDownMagnetometer(); err != nil {
		log.Printf("imu: magnetometer power down: %v", err)
	}

	if err := s.loadFirmware(firmware); err != nil {
		return err
	}
	if err := s.setOrientation(s.cfg.Orientation); err != nil {
		return err
	}
	if err := s.enableFeatures(); err != nil {
		return err
	}
	if err := s.setFIFORate(s.cfg.SampleRate); err != nil {
		return err
	}
	if err := s.setContinuousInterrupt(); err != nil {
		return err
	}
	if err := s.enableDMP(); err != nil {
		return err
	}
	if s.cfg.EnableMagnetometer {
		if err := s.routeMagToFIFO(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	first := true
	for !s.stopping.Load() && ctx.Err() == nil {
		ok, err := s.edge.Wait(edgeTimeout)
		if err != nil {
			log.Printf("imu: interrupt wait failed, worker exiting: %v", err)
			return
		}
		if !ok {
			continue
		}
		now := time.Now()
		s.lastEdgeNs.Store(now.UnixNano())

		s.claimBus("read")
		err = s.decodeCycle(now)
		s.bus.Release()

		s.stats.cycles.Add(1)
		s.lastReadOK.Store(err == nil)
		if err != nil {
			s.stats.failures.Add(1)
			s.warnf("imu: read failed: %v", err)
		}

		if first {
			first = false
			continue
		}
		if cb := s.callback.Load(); cb != nil {
			(*cb)()
		}
	}
}

// decodeCycle drains one FIFO packet and publishes the resulting sample.
// Nothing is published unless the packet passes validation.
func (s *Session) decodeCycle(now time.Time) error {
	p, err := s.readFIFO()
	if err != nil {
		s.stats.fifoErrors.Add(1)
		return err
	}
	if err := validateQuat(p.quat); err != nil {
		s.stats.badQuaternions.Add(1)
		return err
	}

	next := s.Sample()
	next.Time = now
	next.RawAccel = p.accel
	next.RawGyro = p.gyro
	next.Accel = scaled(p.accel, s.accelScale)
	next.Gyro = scaled(p.gyro, s.gyroScale)
	next.DMPQuat = quatFromRaw(p.quat)
	next.DMPTaitBryan = next.DMPQuat.TaitBryan()

	newMag := false
	next.MagValid = false
	switch {
	case !p.hasMag:
	case p.magSaturated:
		s.stats.magSaturated.Add(1)
		s.warnf("imu: magnetometer saturated")
	case p.mag != [3]int16{}:
		next.RawMag = p.mag
		next.Mag = s.correctMag(p.mag)
		next.MagValid = true
		newMag = true
	}

	if !s.cfg.EnableMagnetometer {
		next.FusedTaitBryan = next.DMPTaitBryan
	} else {
		next.FusedTaitBryan.Pitch = next.DMPTaitBryan.Pitch
		next.FusedTaitBryan.Roll = next.DMPTaitBryan.Roll
		if newMag {
			fused, heading, err := s.fusion.update(next.DMPTaitBryan, next.Mag)
			if err != nil {
				s.stats.fusionErrors.Add(1)
				s.warnf("imu: fusion: %v", err)
			} else {
				s.stats.fusionUpdates.Add(1)
				next.FusedTaitBryan = fused
				next.CompassHeading = heading
			}
		}
	}
	next.FusedQuat = next.FusedTaitBryan.Quaternion()

	s.mu.Lock()
	s.sample = next
	s.mu.Unlock()
	return nil
}

// Sample returns a copy of the latest successfully decoded sample.
func (s *Session) Sample() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

// SetCallback installs fn to run on the worker after every cycle but the
// first, whether or not that cycle decoded a sample.
func (s *Session) SetCallback(fn func()) {
	if fn == nil {
		s.callback.Store(nil)
		return
	}
	s.callback.Store(&fn)
}

func (s *Session) StopCallback() { s.callback.Store(nil) }

func (s *Session) LastReadSuccessful() bool { return s.lastReadOK.Load() }

// SinceLastInterrupt reports time since the worker last saw an edge, or 0 if
// none has arrived yet.
func (s *Session) SinceLastInterrupt() time.Duration {
	ns := s.lastEdgeNs.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

func (s *Session) Stats() Stats {
	return Stats{
		Cycles:         s.stats.cycles.Load(),
		Failures:       s.stats.failures.Load(),
		FIFOResets:     s.stats.fifoResets.Load(),
		FIFOErrors:     s.stats.fifoErrors.Load(),
		BadQuaternions: s.stats.badQuaternions.Load(),
		MagSaturated:   s.stats.magSaturated.Load(),
		FusionUpdates:  s.stats.fusionUpdates.Load(),
		FusionErrors:   s.stats.fusionErrors.Load(),
	}
}

// stopWorker asks the worker to exit and waits up to joinTimeout for it.
// It reports whether the worker has exited.
func (s *Session) stopWorker() bool {
	if s.done == nil {
		return true
	}
	s.stopping.Store(true)
	select {
	case <-s.done:
		return true
	case <-time.After(joinTimeout):
		log.Printf("imu: worker did not exit within %s", joinTimeout)
		return false
	}
}

func (s *Session) workerExited() bool {
	if s.done == nil {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// PowerOff stops streaming, resets the chip and puts it to sleep. The
// session cannot be restarted afterwards.
func (s *Session) PowerOff() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == StatePoweredDown {
		return nil
	}
	s.callback.Store(nil)
	// The callback may call State or ReadTemp, so the join runs unlocked.
	for s.state == StateStreaming && !s.workerExited() {
		s.stateMu.Unlock()
		joined := s.stopWorker()
		s.stateMu.Lock()
		if !joined {
			break
		}
	}
	if s.state == StatePoweredDown {
		return nil
	}

	s.claimBus("power off")
	defer s.bus.Release()

	var err error
	if s.cfg.EnableMagnetometer && s.mag != nil {
		s.dmpOn = false
		err = multierr.Append(err, s.powerDownMagnetometer())
	}
	if werr := s.imu.WriteReg(regPwrMgmt1, bitHReset); werr != nil {
		err = multierr.Append(err, fmt.Errorf("mpu9250: reset failed: %w", werr))
	} else {
		sleep(100 * time.Millisecond)
	}
	if werr := s.imu.WriteReg(regPwrMgmt1, bitSleep); werr != nil {
		err = multierr.Append(err, fmt.Errorf("mpu9250: sleep failed: %w", werr))
	}
	s.state = StatePoweredDown
	return err
}
