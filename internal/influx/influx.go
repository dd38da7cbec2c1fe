// Package influx writes simulator telemetry to InfluxDB, falling back to a
// gzipped line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/pkg/core"
)

// Measurement names.
const (
	MeasurementOdometry  = "odometry"
	MeasurementCollision = "collision"
	MeasurementPose      = "pose_event"
	MeasurementStatus    = "status"
)

const retentionSeconds = 60 * 60 * 24 * 30

// ErrNotConnected is returned by writes before Connect or after Close.
var ErrNotConnected = errors.New("influx: no client and no backup writer")

// Manager handles InfluxDB connections and writes.
type Manager struct {
	cfg    config.InfluxConfig
	Logger zerolog.Logger

	mu           sync.Mutex
	Client       influxdb2.Client
	Writers      map[string]influxdb2_api.WriteAPI
	IsValid      bool
	backupFile   *os.File
	BackupWriter *gzip.Writer
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		Writers: make(map[string]influxdb2_api.WriteAPI),
		Logger:  log,
	}
}

// ServerURL builds the server address from the config.
func ServerURL(cfg config.InfluxConfig) string {
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%s", protocol, cfg.Host, cfg.Port)
}

// Connect pings the server. When it does not answer, points go to the
// backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Client = influxdb2.NewClientWithOptions(
		ServerURL(m.cfg),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(2500).
			SetFlushInterval(1000),
	)

	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Warn().Err(err).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.IsValid = true
	m.createWriter(m.cfg.Bucket)
	m.Logger.Info().Str("url", ServerURL(m.cfg)).Msg("InfluxDB client initialized")
	return nil
}

// UseBackup skips the server entirely.
func (m *Manager) UseBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IsValid = false
	return m.openBackup()
}

func (m *Manager) openBackup() error {
	if m.BackupWriter != nil {
		return nil
	}
	if m.cfg.BackupPath == "" {
		return errors.New("influx: no backup path configured")
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.BackupPath), 0755); err != nil {
		return fmt.Errorf("error creating backup directory: %w", err)
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.BackupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.Client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.Logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("error creating organization %s: %w", m.cfg.Org, err)
		}
	}

	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("error creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

func (m *Manager) createWriter(bucket string) {
	w := m.Client.WriteAPI(m.cfg.Org, bucket)
	m.Writers[bucket] = w

	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.Logger.Error().Err(writeErr).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
		}
	}(w.Errors())
}

// WritePoint writes to the configured bucket.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	return m.WritePointTo(m.cfg.Bucket, point)
}

// WritePointTo writes a point to bucket, or to the backup file when offline.
func (m *Manager) WritePointTo(bucket string, point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsValid {
		w, ok := m.Writers[bucket]
		if !ok {
			m.createWriter(bucket)
			w = m.Writers[bucket]
		}
		w.WritePoint(point)
		return nil
	}

	if m.BackupWriter == nil {
		return ErrNotConnected
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.BackupWriter.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.Writers {
		w.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
		m.Client = nil
	}
	m.IsValid = false

	var err error
	if m.BackupWriter != nil {
		err = errors.Join(m.BackupWriter.Close(), m.backupFile.Close())
		m.BackupWriter = nil
		m.backupFile = nil
	}
	return err
}

// FramePoint converts an odometry frame into a point.
func FramePoint(f *core.OdometryFrame, sessionID string) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementOdometry,
		map[string]string{"device": f.DeviceID, "session": sessionID},
		map[string]any{
			"tick":         int64(f.Tick),
			"x":            f.Pose.X,
			"y":            f.Pose.Y,
			"heading":      f.Pose.Heading,
			"odom_x":       f.Odometry.X,
			"odom_y":       f.Odometry.Y,
			"odom_heading": f.Odometry.Heading,
			"linear":       f.Command.Linear,
			"angular":      f.Command.Angular,
			"stall":        f.Stall,
		},
		f.Time,
	)
}

// CollisionPoint converts a collision event into a point.
func CollisionPoint(e *core.CollisionEvent, sessionID string) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementCollision,
		map[string]string{"device": e.DeviceID, "session": sessionID},
		map[string]any{
			"tick":      int64(e.Tick),
			"x":         e.From.X,
			"y":         e.From.Y,
			"attempt_x": e.Attempted.X,
			"attempt_y": e.Attempted.Y,
		},
		e.Time,
	)
}

// PosePoint converts a pose event into a point.
func PosePoint(e *core.PoseEvent, sessionID string) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementPose,
		map[string]string{"device": e.DeviceID, "session": sessionID, "kind": e.Kind},
		map[string]any{
			"x":       e.Pose.X,
			"y":       e.Pose.Y,
			"heading": e.Pose.Heading,
			"alpha":   e.Alpha,
		},
		e.Time,
	)
}

// StatusPoint converts a status sample into a point.
func StatusPoint(s *core.StatusSample, sessionID string) *influxdb2_write.Point {
	fields := map[string]any{
		"ticks":      int64(s.Ticks),
		"stalls":     int64(s.Stalls),
		"collisions": int64(s.Collisions),
		"devices":    s.Devices,
	}
	for name, n := range s.QueueLengths {
		fields["queue_"+name] = n
	}
	return influxdb2.NewPoint(MeasurementStatus, map[string]string{"session": sessionID}, fields, s.Time)
}

// ParseMetric builds a point from front-end fields:
//
//	bucket, measurement, then any of tag::name::value and field::type::name::value
//
// with type one of string, int, float, bool.
func ParseMetric(data []string) (bucket string, point *influxdb2_write.Point, err error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("metric needs bucket and measurement, got %d fields", len(data))
	}

	bucket = data[0]
	point = influxdb2_write.NewPointWithMeasurement(data[1])

	for _, item := range data[2:] {
		parts := strings.Split(item, "::")
		switch {
		case parts[0] == "tag" && len(parts) >= 3:
			point.AddTag(parts[1], parts[2])
		case parts[0] == "field" && len(parts) >= 4:
			value, err := parseFieldValue(parts[1], parts[3])
			if err != nil {
				return "", nil, fmt.Errorf("field %s: %w", parts[2], err)
			}
			point.AddField(parts[2], value)
		}
	}
	if len(point.FieldList()) == 0 {
		return "", nil, fmt.Errorf("metric %s has no fields", data[1])
	}

	return bucket, point, nil
}

func parseFieldValue(kind, raw string) (any, error) {
	switch kind {
	case "string":
		return raw, nil
	case "int":
		return strconv.ParseInt(raw, 10, 64)
	case "float":
		return strconv.ParseFloat(raw, 64)
	case "bool":
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("unknown field type %q", kind)
	}
}
