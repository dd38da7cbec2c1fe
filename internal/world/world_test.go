package world

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	w := New(Config{TimeStep: 100 * time.Millisecond}, clock.NewMock())

	assert.Equal(t, 1.0, w.Scale())
	assert.Equal(t, time.Duration(0), w.Elapsed())
	assert.Equal(t, 100*time.Millisecond, w.TimeStep())
	assert.NotNil(t, w.Drag())
}

func TestAdvance(t *testing.T) {
	w := New(Config{TimeStep: 100 * time.Millisecond}, clock.NewMock())

	w.Advance()
	w.Advance()
	assert.Equal(t, 300*time.Millisecond, w.Advance())
	assert.Equal(t, 300*time.Millisecond, w.Elapsed())
}

func TestNow_FollowsClock(t *testing.T) {
	mock := clock.NewMock()
	w := New(Config{}, mock)

	start := w.Now()
	mock.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, w.Now().Sub(start))
	assert.Equal(t, start, w.Started())
}

func TestFloat64_SeededSequence(t *testing.T) {
	a := New(Config{ErrorSeed: 42}, clock.NewMock())
	b := New(Config{ErrorSeed: 42}, clock.NewMock())

	for i := 0; i < 5; i++ {
		va := a.Float64()
		assert.Equal(t, va, b.Float64())
		assert.GreaterOrEqual(t, va, 0.0)
		assert.Less(t, va, 1.0)
	}
}

func TestDragState(t *testing.T) {
	d := NewDragState()
	h := d.For("robot1")

	assert.False(t, h.IsUnderManualControl())
	d.Hold("robot1")
	assert.True(t, h.IsUnderManualControl())
	assert.False(t, d.For("robot2").IsUnderManualControl())
	d.Release("robot1")
	assert.False(t, h.IsUnderManualControl())
}
