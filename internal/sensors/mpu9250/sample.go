package mpu9250

import (
	"time"

	"github.com/golang/geo/r3"
)

// Sample is the latest decoded DMP packet plus derived orientation.
type Sample struct {
	Time time.Time

	RawAccel [3]int16
	RawGyro  [3]int16
	RawMag   [3]int16

	// Accel in m/s².
	Accel r3.Vector
	// Gyro in deg/s.
	Gyro r3.Vector
	// Mag in µT after factory adjustment and calibration. It holds the last
	// good reading; MagValid is set only when this sample refreshed it.
	Mag      r3.Vector
	MagValid bool

	TempC float64

	DMPQuat      Quaternion
	DMPTaitBryan TaitBryan

	FusedQuat      Quaternion
	FusedTaitBryan TaitBryan
	// CompassHeading is the tilt-compensated magnetic heading in radians,
	// before wrapping.
	CompassHeading float64
}
