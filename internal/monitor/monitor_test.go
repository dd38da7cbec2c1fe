package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	ticks uint64
}

func (c *countingSource) Status() core.StatusSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks += 10
	return core.StatusSample{Ticks: c.ticks, Devices: 1, QueueLengths: map[string]int{"frames": 2}}
}

type recorder struct {
	mu      sync.Mutex
	samples []core.StatusSample
	err     error
}

func (r *recorder) record(s *core.StatusSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, *s)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func TestSample_StampsAndRecords(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	path := filepath.Join(t.TempDir(), "status.json")

	s := NewService(Dependencies{
		Source:     &countingSource{},
		Clock:      clk,
		Record:     rec.record,
		StatusFile: path,
	})

	sample := s.Sample()
	assert.Equal(t, uint64(10), sample.Ticks)
	assert.Equal(t, clk.Now(), sample.Time)
	assert.Equal(t, sample, s.Last())
	require.Equal(t, 1, rec.count())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk core.StatusSample
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, uint64(10), onDisk.Ticks)
	assert.Equal(t, map[string]int{"frames": 2}, onDisk.QueueLengths)
}

func TestSample_RecordErrorIsLogged(t *testing.T) {
	rec := &recorder{err: errors.New("db down")}
	s := NewService(Dependencies{Source: &countingSource{}, Clock: clock.NewMock(), Record: rec.record})

	assert.NotPanics(t, func() { s.Sample() })
	assert.Equal(t, 1, rec.count())
}

func TestStartStop_TicksOnInterval(t *testing.T) {
	clk := clock.NewMock()
	rec := &recorder{}
	s := NewService(Dependencies{
		Source:   &countingSource{},
		Clock:    clk,
		Interval: time.Second,
		Record:   rec.record,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return rec.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestStart_NoSource(t *testing.T) {
	s := NewService(Dependencies{})
	assert.Error(t, s.Start())
	assert.False(t, s.IsRunning())
}
