// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/stagesim/pioneer/pkg/core"
)

// ExportVersion is bumped when the JSON layout changes.
const ExportVersion = 1

// SessionExport is the root JSON structure
type SessionExport struct {
	Version         int       `json:"version"`
	SessionID       string    `json:"sessionId"`
	DeviceID        string    `json:"deviceId"`
	Tag             string    `json:"tag,omitempty"`
	MapFile         string    `json:"mapFile,omitempty"`
	StartTime       time.Time `json:"startTime"`
	Duration        float64   `json:"duration"` // simulated seconds
	Scale           float64   `json:"scale"`
	TimeStepMs      int64     `json:"timeStepMs"`
	MaxAngularError float64   `json:"maxAngularError"`
	Width           float64   `json:"width"`
	Length          float64   `json:"length"`
	Origin          core.Pose `json:"origin"`
	Frames          [][]any   `json:"frames"`
	Collisions      [][]any   `json:"collisions"`
	PoseEvents      [][]any   `json:"poseEvents"`
	Status          [][]any   `json:"status"`
}

// frameCSV is one row of the per-frame CSV export
type frameCSV struct {
	Tick        uint64  `csv:"tick"`
	ElapsedMs   int64   `csv:"elapsed_ms"`
	X           float64 `csv:"x"`
	Y           float64 `csv:"y"`
	Heading     float64 `csv:"heading"`
	OdomX       float64 `csv:"odom_x"`
	OdomY       float64 `csv:"odom_y"`
	OdomHeading float64 `csv:"odom_heading"`
	Linear      float64 `csv:"linear"`
	Angular     float64 `csv:"angular"`
	Stall       int     `csv:"stall"`
}

// exportBaseName builds "<device>_<start>" with characters unsafe in filenames replaced
func (b *Backend) exportBaseName() string {
	name := b.session.DeviceID
	if name == "" {
		name = "session"
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ":", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return fmt.Sprintf("%s_%s", name, b.session.StartTime.UTC().Format("20060102_150405"))
}

// exportJSON writes the session to a (gzipped) JSON file, plus a CSV when enabled
func (b *Backend) exportJSON() error {
	export := b.buildExport()
	base := b.exportBaseName()

	var filename string
	if b.cfg.CompressOutput {
		filename = base + ".json.gz"
	} else {
		filename = base + ".json"
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := b.writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := b.writeJSON(outputPath, export); err != nil {
			return err
		}
	}
	b.lastExportPath = outputPath

	if b.cfg.CSV {
		csvPath := filepath.Join(b.cfg.OutputDir, base+".csv")
		if err := b.writeCSV(csvPath); err != nil {
			return err
		}
		b.lastCSVPath = csvPath
	}
	return nil
}

func (b *Backend) buildExport() SessionExport {
	s := b.session
	export := SessionExport{
		Version:         ExportVersion,
		SessionID:       s.SessionID,
		DeviceID:        s.DeviceID,
		Tag:             s.Tag,
		MapFile:         s.MapFile,
		StartTime:       s.StartTime,
		Duration:        b.durationSeconds(),
		Scale:           s.Scale,
		TimeStepMs:      s.TimeStep.Milliseconds(),
		MaxAngularError: s.MaxAngularError,
		Width:           s.Width,
		Length:          s.Length,
		Origin:          s.Origin,
		Frames:          make([][]any, 0, len(b.frames)),
		Collisions:      make([][]any, 0, len(b.collisions)),
		PoseEvents:      make([][]any, 0, len(b.poseEvents)),
		Status:          make([][]any, 0, len(b.statuses)),
	}

	// Format: [tick, elapsedMs, [x, y], heading, [odomX, odomY], odomHeading, [linear, angular], stall]
	for _, f := range b.frames {
		export.Frames = append(export.Frames, []any{
			f.Tick,
			f.ElapsedMs,
			[]float64{f.Pose.X, f.Pose.Y},
			f.Pose.Heading,
			[]float64{f.Odometry.X, f.Odometry.Y},
			f.Odometry.Heading,
			[]float64{f.Command.Linear, f.Command.Angular},
			boolToInt(f.Stall),
		})
	}

	// Format: [tick, [fromX, fromY, fromHeading], [toX, toY, toHeading]]
	for _, e := range b.collisions {
		export.Collisions = append(export.Collisions, []any{
			e.Tick,
			[]float64{e.From.X, e.From.Y, e.From.Heading},
			[]float64{e.Attempted.X, e.Attempted.Y, e.Attempted.Heading},
		})
	}

	// Format: [tick, kind, [x, y, heading], alpha]
	for _, e := range b.poseEvents {
		export.PoseEvents = append(export.PoseEvents, []any{
			e.Tick,
			e.Kind,
			[]float64{e.Pose.X, e.Pose.Y, e.Pose.Heading},
			e.Alpha,
		})
	}

	// Format: [time, ticks, stalls, collisions]
	for _, st := range b.statuses {
		export.Status = append(export.Status, []any{
			st.Time.UTC().Format(time.RFC3339),
			st.Ticks,
			st.Stalls,
			st.Collisions,
		})
	}

	return export
}

func (b *Backend) writeJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func (b *Backend) writeGzipJSON(path string, data SessionExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}

func (b *Backend) writeCSV(path string) error {
	rows := make([]*frameCSV, 0, len(b.frames))
	for _, f := range b.frames {
		rows = append(rows, &frameCSV{
			Tick:        f.Tick,
			ElapsedMs:   f.ElapsedMs,
			X:           f.Pose.X,
			Y:           f.Pose.Y,
			Heading:     f.Pose.Heading,
			OdomX:       f.Odometry.X,
			OdomY:       f.Odometry.Y,
			OdomHeading: f.Odometry.Heading,
			Linear:      f.Command.Linear,
			Angular:     f.Command.Angular,
			Stall:       boolToInt(f.Stall),
		})
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create csv file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
