package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Session{},
	&OdometryFrame{},
	&CollisionEvent{},
	&PoseEvent{},
	&StatusSample{},
}

// DatabaseModelsSQLite is the migration list for SQLite, which has no jsonb or timestamptz
// but accepts the same declarations through the glebarez driver.
var DatabaseModelsSQLite = []interface{}{
	&Session{},
	&OdometryFrame{},
	&CollisionEvent{},
	&PoseEvent{},
	&StatusSample{},
}

// Session is one simulator run of a single device
type Session struct {
	gorm.Model
	SessionID       string     `json:"sessionId" gorm:"size:36;uniqueIndex:idx_session_uuid"`
	DeviceID        string     `json:"deviceId" gorm:"size:64;index:idx_session_device"`
	StartTime       time.Time  `json:"startTime" gorm:"type:timestamptz;index:idx_session_start"`
	EndTime         *time.Time `json:"endTime" gorm:"type:timestamptz"`
	MapFile         string     `json:"mapFile" gorm:"size:255"`
	Scale           float64    `json:"scale" gorm:"default:1"`                // pixels per metre
	TimeStepMs      int64      `json:"timeStepMs"`                            // simulated time per tick
	MaxAngularError float64    `json:"maxAngularError" gorm:"default:0"`      // upper bound of the odometry heading error
	Width           float64    `json:"width"`                                 // body width, metres
	Length          float64    `json:"length"`                                // body length, metres
	Origin          geom.Point `json:"origin"`                                // pose at creation, world units
	OriginHeading   float64    `json:"originHeading"`                         // radians
	Tag             string     `json:"tag" gorm:"size:127"`

	OdometryFrames  []OdometryFrame
	CollisionEvents []CollisionEvent
	PoseEvents      []PoseEvent
}

func (*Session) TableName() string {
	return "sessions"
}

// OdometryFrame is the state of a device after one tick
type OdometryFrame struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_frame_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick" gorm:"index:idx_frame_tick"`
	ElapsedMs int64     `json:"elapsedMs"`

	Position    geom.Point   `json:"position"`    // ground-truth position
	Heading     float64      `json:"heading"`     // ground-truth heading, radians
	OdomX       float64      `json:"odomX"`       // dead-reckoned x
	OdomY       float64      `json:"odomY"`       // dead-reckoned y
	OdomHeading float64      `json:"odomHeading"` // dead-reckoned heading, radians
	Linear      float64      `json:"linear"`      // commanded m/s
	Angular     float64      `json:"angular"`     // commanded rad/s
	Stall       bool         `json:"stall" gorm:"default:false"`
	Footprint   geom.Polygon `json:"footprint"`
	Packet      []byte       `json:"packet"` // encoded odometry record
}

func (*OdometryFrame) TableName() string {
	return "odometry_frames"
}

// CollisionEvent records a move rejected by the collision probe
type CollisionEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_collision_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick"`

	From             geom.Point   `json:"from"`
	FromHeading      float64      `json:"fromHeading"`
	Attempted        geom.Point   `json:"attempted"`
	AttemptedHeading float64      `json:"attemptedHeading"`
	Footprint        geom.Polygon `json:"footprint"` // footprint that was kept
}

func (*CollisionEvent) TableName() string {
	return "collision_events"
}

// PoseEvent records a set-pose request or a published hypothesis
type PoseEvent struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time      time.Time `json:"time" gorm:"type:timestamptz;"`
	SessionID uint      `json:"sessionId" gorm:"index:idx_poseevent_session_id"`
	Session   Session   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:SessionID;"`
	Tick      uint64    `json:"tick"`

	Kind     string         `json:"kind" gorm:"size:32;index:idx_poseevent_kind"`
	Position geom.Point     `json:"position"`
	Heading  float64        `json:"heading"`
	Cov      datatypes.JSON `json:"cov" gorm:"type:jsonb;default:'[]'"` // 6-element covariance
	Alpha    float64        `json:"alpha"`
}

func (*PoseEvent) TableName() string {
	return "pose_events"
}

// StatusSample is a periodic health snapshot of the simulator
type StatusSample struct {
	ID           uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time         time.Time      `json:"time" gorm:"type:timestamptz;index:idx_status_time"`
	SessionID    uint           `json:"sessionId" gorm:"index:idx_status_session_id"`
	Ticks        uint64         `json:"ticks"`
	Stalls       uint64         `json:"stalls"`
	Collisions   uint64         `json:"collisions"`
	Devices      int            `json:"devices"`
	QueueLengths datatypes.JSON `json:"queueLengths" gorm:"type:jsonb;default:'{}'"`
}

func (*StatusSample) TableName() string {
	return "status_samples"
}
