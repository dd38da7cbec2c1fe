package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBackup(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestServerURL(t *testing.T) {
	assert.Equal(t, "http://db:8086", ServerURL(config.InfluxConfig{Host: "db", Port: "8086"}))
	assert.Equal(t, "https://db:8086", ServerURL(config.InfluxConfig{Host: "db", Port: "8086", Protocol: "https"}))
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "odometry"}, zerolog.Nop())
	err := m.WritePoint(FramePoint(&core.OdometryFrame{DeviceID: "robot1"}, "s"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUseBackup_WritesLineProtocol(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup", "influx.log.gz")
	m := NewManager(config.InfluxConfig{Bucket: "odometry", BackupPath: path}, zerolog.Nop())
	require.NoError(t, m.UseBackup())

	frame := &core.OdometryFrame{
		DeviceID: "robot1",
		Tick:     3,
		Time:     time.Unix(10, 0),
		Pose:     core.Pose{X: 1.5, Y: 2, Heading: 0},
		Stall:    true,
	}
	require.NoError(t, m.WritePoint(FramePoint(frame, "abc")))
	require.NoError(t, m.WritePoint(StatusPoint(&core.StatusSample{Ticks: 3, Time: time.Unix(11, 0)}, "abc")))
	require.NoError(t, m.Close())

	lines := strings.Split(strings.TrimSpace(readBackup(t, path)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "odometry,device=robot1,session=abc "), lines[0])
	assert.Contains(t, lines[0], "stall=true")
	assert.Contains(t, lines[0], "tick=3i")
	assert.True(t, strings.HasSuffix(lines[0], " 10000000000"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "status,session=abc "), lines[1])

	// closed managers refuse writes
	assert.ErrorIs(t, m.WritePoint(FramePoint(frame, "abc")), ErrNotConnected)
}

func TestUseBackup_NoPath(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop())
	assert.Error(t, m.UseBackup())
}

func TestConnect_UnreachableFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx.log.gz")
	m := NewManager(config.InfluxConfig{
		Host:       "127.0.0.1",
		Port:       "1",
		Bucket:     "odometry",
		BackupPath: path,
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)
	require.NoError(t, m.WritePoint(CollisionPoint(&core.CollisionEvent{DeviceID: "robot1", Time: time.Unix(1, 0)}, "s")))
	require.NoError(t, m.Close())

	assert.Contains(t, readBackup(t, path), "collision,device=robot1")
}

func TestPosePointTags(t *testing.T) {
	p := PosePoint(&core.PoseEvent{DeviceID: "robot1", Kind: core.PoseEventSetPose, Alpha: 1}, "s")
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"device": "robot1", "session": "s", "kind": core.PoseEventSetPose}, tags)
}

func TestParseMetric(t *testing.T) {
	bucket, point, err := ParseMetric([]string{
		"lab", "battery",
		"tag::device::robot1",
		"field::float::volts::12.5",
		"field::int::cycles::7",
		"field::bool::charging::true",
		"field::string::state::ok",
		"ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "lab", bucket)
	assert.Equal(t, "battery", point.Name())

	fields := map[string]any{}
	for _, f := range point.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, map[string]any{
		"volts":    12.5,
		"cycles":   int64(7),
		"charging": true,
		"state":    "ok",
	}, fields)
}

func TestParseMetric_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []string
	}{
		{"too short", []string{"lab"}},
		{"no fields", []string{"lab", "battery", "tag::a::b"}},
		{"bad int", []string{"lab", "battery", "field::int::n::x"}},
		{"unknown type", []string{"lab", "battery", "field::complex::n::1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseMetric(tt.data)
			assert.Error(t, err)
		})
	}
}
