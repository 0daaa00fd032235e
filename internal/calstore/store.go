// Package calstore persists IMU calibration records as small text files.
//
// gyro.cal holds three decimal integers (raw gyro LSB, x y z), one per line.
// mag.cal holds six decimal floats: offset x y z in µT, then scale x y z.
package calstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	GyroFile = "gyro.cal"
	MagFile  = "mag.cal"
)

// ErrNotFound is returned when a record has never been written.
var ErrNotFound = errors.New("calstore: record not found")

// Profile is the calibration applied to a streaming session.
type Profile struct {
	// GyroBias is the averaged raw gyro output at rest (LSB at ±250 dps).
	GyroBias [3]int32
	// MagOffset is the hard-iron center in µT.
	MagOffset r3.Vector
	// MagScale maps the fitted ellipsoid onto a sphere.
	MagScale r3.Vector
}

// Identity returns a profile that leaves readings unchanged.
func Identity() Profile {
	return Profile{MagScale: r3.Vector{X: 1, Y: 1, Z: 1}}
}

// EffectiveScale returns MagScale with exact zeros replaced by 1.
func (p Profile) EffectiveScale() r3.Vector {
	return nonZeroScale(p.MagScale)
}

func nonZeroScale(v r3.Vector) r3.Vector {
	if v.X == 0 {
		v.X = 1
	}
	if v.Y == 0 {
		v.Y = 1
	}
	if v.Z == 0 {
		v.Z = 1
	}
	return v
}

type Store struct {
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) SaveGyro(bias [3]int32) error {
	lines := make([]string, 0, 3)
	for _, v := range bias {
		lines = append(lines, strconv.FormatInt(int64(v), 10))
	}
	return s.write(GyroFile, lines)
}

func (s *Store) LoadGyro() ([3]int32, error) {
	var bias [3]int32
	fields, err := s.read(GyroFile, 3)
	if err != nil {
		return bias, err
	}
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return [3]int32{}, errors.Wrapf(err, "calstore: %s line %d", GyroFile, i+1)
		}
		bias[i] = int32(v)
	}
	return bias, nil
}

// SaveMag persists offset and scale. A zero scale component is stored as 1.
func (s *Store) SaveMag(offset, scale r3.Vector) error {
	scale = nonZeroScale(scale)
	vals := []float64{offset.X, offset.Y, offset.Z, scale.X, scale.Y, scale.Z}
	lines := make([]string, 0, len(vals))
	for _, v := range vals {
		lines = append(lines, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return s.write(MagFile, lines)
}

// LoadMag reads offset and scale. A zero scale component is returned as 1.
func (s *Store) LoadMag() (offset, scale r3.Vector, err error) {
	fields, err := s.read(MagFile, 6)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}
	var v [6]float64
	for i, f := range fields {
		v[i], err = strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vector{}, r3.Vector{}, errors.Wrapf(err, "calstore: %s line %d", MagFile, i+1)
		}
	}
	offset = r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	scale = nonZeroScale(r3.Vector{X: v[3], Y: v[4], Z: v[5]})
	return offset, scale, nil
}

// Load builds a profile from whatever records exist. Missing or unreadable
// records leave the identity values in place and are reported in errs.
func (s *Store) Load() (p Profile, errs []error) {
	p = Identity()
	if bias, err := s.LoadGyro(); err != nil {
		errs = append(errs, err)
	} else {
		p.GyroBias = bias
	}
	if off, sc, err := s.LoadMag(); err != nil {
		errs = append(errs, err)
	} else {
		p.MagOffset, p.MagScale = off, sc
	}
	return p, errs
}

func (s *Store) write(name string, lines []string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "calstore: create %s", s.dir)
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	body := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return errors.Wrapf(err, "calstore: write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "calstore: rename %s", path)
	}
	return nil
}

func (s *Store) read(name string, want int) ([]string, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s", path)
		}
		return nil, errors.Wrapf(err, "calstore: open %s", path)
	}
	defer f.Close()

	fields := make([]string, 0, want)
	sc := bufio.NewScanner(f)
	for sc.Scan() && len(fields) < want {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields = append(fields, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "calstore: read %s", path)
	}
	if len(fields) != want {
		return nil, fmt.Errorf("calstore: %s has %d values, want %d", path, len(fields), want)
	}
	return fields, nil
}
