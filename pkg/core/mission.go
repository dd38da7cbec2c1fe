// pkg/core/mission.go
package core

import "time"

// Session describes one simulator run for a single device.
type Session struct {
	ID              uint
	SessionID       string
	DeviceID        string
	StartTime       time.Time
	MapFile         string
	Scale           float64
	TimeStep        time.Duration
	MaxAngularError float64
	Width           float64
	Length          float64
	Origin          Pose
	Tag             string
}

// UploadMetadata carries the fields the recording server needs with an upload.
type UploadMetadata struct {
	SessionName string
	DeviceID    string
	Duration    float64
	Tag         string
}
