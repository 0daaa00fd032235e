package ahrs

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"dmpimu/internal/sensors/mpu9250"
)

type fakeSensor struct {
	cb        func()
	startErr  error
	sample    mpu9250.Sample
	readOK    bool
	tempReads int
	stats     mpu9250.Stats
	powerErr  error
	poweredOn bool
	log       *[]string
}

func (f *fakeSensor) StartStreaming(ctx context.Context, firmware []byte) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.poweredOn = true
	return nil
}

func (f *fakeSensor) SetCallback(fn func())    { f.cb = fn }
func (f *fakeSensor) Sample() mpu9250.Sample   { return f.sample }
func (f *fakeSensor) LastReadSuccessful() bool { return f.readOK }
func (f *fakeSensor) Stats() mpu9250.Stats     { return f.stats }

func (f *fakeSensor) ReadTemp() (float64, error) {
	f.tempReads++
	return 30, nil
}

func (f *fakeSensor) PowerOff() error {
	if f.log != nil {
		*f.log = append(*f.log, "power")
	}
	f.poweredOn = false
	return f.powerErr
}

func testSample() mpu9250.Sample {
	return mpu9250.Sample{
		Time:           time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Accel:          r3.Vector{X: 0.1, Y: -0.2, Z: 9.8},
		Gyro:           r3.Vector{X: 1, Y: 2, Z: 3},
		Mag:            r3.Vector{X: 20, Y: -5, Z: 40},
		MagValid:       true,
		DMPTaitBryan:   mpu9250.TaitBryan{Yaw: math.Pi / 4},
		FusedTaitBryan: mpu9250.TaitBryan{Pitch: math.Pi / 6, Roll: -math.Pi / 3, Yaw: -math.Pi / 2},
		CompassHeading: -math.Pi / 2,
	}
}

func TestStartWith_CallbackUpdatesSnapshot(t *testing.T) {
	s := New(Config{Device: mpu9250.DefaultConfig()})
	fs := &fakeSensor{sample: testSample(), readOK: true}
	if err := s.startWith(context.Background(), fs, []byte{1}); err != nil {
		t.Fatalf("startWith: %v", err)
	}
	if fs.cb == nil {
		t.Fatalf("callback not installed")
	}
	if s.Snapshot().Valid {
		t.Fatalf("snapshot valid before first callback")
	}

	fs.cb()
	snap := s.Snapshot()
	if !snap.Valid || !snap.LastReadOK || snap.LastError != "" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if math.Abs(snap.PitchDeg-30) > 1e-9 || math.Abs(snap.RollDeg+60) > 1e-9 || math.Abs(snap.YawDeg+90) > 1e-9 {
		t.Fatalf("attitude=(%v, %v, %v)", snap.PitchDeg, snap.RollDeg, snap.YawDeg)
	}
	if math.Abs(snap.DMPYawDeg-45) > 1e-9 {
		t.Fatalf("dmp yaw=%v want 45", snap.DMPYawDeg)
	}
	if math.Abs(snap.HeadingDeg-270) > 1e-9 {
		t.Fatalf("heading=%v want 270", snap.HeadingDeg)
	}
	if snap.MagUT != [3]float64{20, -5, 40} || !snap.MagValid {
		t.Fatalf("mag=%v valid=%v", snap.MagUT, snap.MagValid)
	}
	if fs.tempReads != 1 {
		t.Fatalf("temp reads=%d want 1", fs.tempReads)
	}
}

func TestUpdate_ReadsTemperatureOncePerSecond(t *testing.T) {
	cfg := mpu9250.DefaultConfig()
	cfg.SampleRate = 10
	s := New(Config{Device: cfg})
	fs := &fakeSensor{sample: testSample(), readOK: true}
	if err := s.startWith(context.Background(), fs, nil); err != nil {
		t.Fatalf("startWith: %v", err)
	}
	for i := 0; i < 25; i++ {
		fs.cb()
	}
	if fs.tempReads != 3 {
		t.Fatalf("temp reads=%d want 3", fs.tempReads)
	}
}

func TestUpdate_FailedReadKeepsAttitude(t *testing.T) {
	s := New(Config{Device: mpu9250.DefaultConfig()})
	fs := &fakeSensor{sample: testSample(), readOK: true}
	if err := s.startWith(context.Background(), fs, nil); err != nil {
		t.Fatalf("startWith: %v", err)
	}
	fs.cb()
	good := s.Snapshot()

	fs.readOK = false
	fs.sample = mpu9250.Sample{}
	fs.cb()
	snap := s.Snapshot()
	if snap.LastReadOK || snap.LastError == "" {
		t.Fatalf("failure not flagged: %+v", snap)
	}
	if snap.PitchDeg != good.PitchDeg || !snap.Valid {
		t.Fatalf("attitude lost on failed read: %+v", snap)
	}
}

func TestStartWith_Failure(t *testing.T) {
	s := New(Config{})
	startErr := errors.New("whoami mismatch")
	fs := &fakeSensor{startErr: startErr}
	if err := s.startWith(context.Background(), fs, nil); !errors.Is(err, startErr) {
		t.Fatalf("err=%v want %v", err, startErr)
	}
	if fs.cb != nil {
		t.Fatalf("callback left installed")
	}
	if s.Stats() != (mpu9250.Stats{}) {
		t.Fatalf("stats before start: %+v", s.Stats())
	}
}

func TestStats_PassThrough(t *testing.T) {
	s := New(Config{})
	fs := &fakeSensor{stats: mpu9250.Stats{Cycles: 7, FIFOResets: 1}}
	if err := s.startWith(context.Background(), fs, nil); err != nil {
		t.Fatalf("startWith: %v", err)
	}
	if got := s.Stats(); got.Cycles != 7 || got.FIFOResets != 1 {
		t.Fatalf("stats=%+v", got)
	}
}

func TestClose_OrderAndCombinedErrors(t *testing.T) {
	var order []string
	closer := func(name string, err error) func() error {
		return func() error {
			order = append(order, name)
			return err
		}
	}
	busErr := errors.New("bus close")
	s := New(Config{})
	s.closers = []func() error{closer("edge", nil), closer("bus", busErr)}
	// startWith prepends the session, mirroring Start.
	powerErr := errors.New("sleep write")
	fs := &fakeSensor{powerErr: powerErr, log: &order}
	if err := s.startWith(context.Background(), fs, nil); err != nil {
		t.Fatalf("startWith: %v", err)
	}

	err := s.Close()
	if got := strings.Join(order, ","); got != "power,edge,bus" {
		t.Fatalf("close order=%s want power,edge,bus", got)
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 || !errors.Is(err, powerErr) || !errors.Is(err, busErr) {
		t.Fatalf("err=%v want both close errors", err)
	}

	if err2 := s.Close(); err2 != err {
		t.Fatalf("second Close()=%v want cached %v", err2, err)
	}
	if len(order) != 3 {
		t.Fatalf("closers ran twice: %v", order)
	}
}

func TestClose_NilService(t *testing.T) {
	var s *Service
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestStart_MissingFirmware(t *testing.T) {
	s := New(Config{Firmware: t.TempDir() + "/missing.bin"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected firmware error")
	}
}

type fakeCalibrator struct {
	gyro, mag int
	samples   int
}

func (f *fakeCalibrator) CalibrateGyro(ctx context.Context) error {
	f.gyro++
	return nil
}

func (f *fakeCalibrator) CalibrateMag(ctx context.Context, samples int) error {
	f.mag++
	f.samples = samples
	return nil
}

func TestRunCalibration(t *testing.T) {
	c := &fakeCalibrator{}
	if err := runCalibration(context.Background(), c, "gyro", 0); err != nil || c.gyro != 1 {
		t.Fatalf("gyro: err=%v calls=%d", err, c.gyro)
	}
	if err := runCalibration(context.Background(), c, "mag", 150); err != nil || c.mag != 1 || c.samples != 150 {
		t.Fatalf("mag: err=%v calls=%d samples=%d", err, c.mag, c.samples)
	}
	if err := runCalibration(context.Background(), c, "accel", 0); err == nil {
		t.Fatalf("expected error for unknown calibration")
	}
}

func TestHeading360(t *testing.T) {
	cases := []struct{ rad, want float64 }{
		{0, 0},
		{math.Pi / 2, 90},
		{-math.Pi / 2, 270},
		{math.Pi, 180},
		{-math.Pi, 180},
	}
	for _, tc := range cases {
		if got := heading360(tc.rad); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("heading360(%v)=%v want %v", tc.rad, got, tc.want)
		}
	}
}
