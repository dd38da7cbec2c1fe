package sim

import (
	"bytes"
	"context"
	"image"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lmittmann/ppm"
	"github.com/stagesim/pioneer/internal/cache"
	"github.com/stagesim/pioneer/internal/config"
	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/localize"
	"github.com/stagesim/pioneer/internal/raster"
	"github.com/stagesim/pioneer/internal/storage/memory"
	"github.com/stagesim/pioneer/internal/world"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const red core.Color = 0xff0000

type fixture struct {
	sim     *Simulator
	clock   *clock.Mock
	grid    *raster.Grid
	backend *memory.Backend
	packets map[string][]byte
}

// newFixture builds a 10 px/m world with one 1x2 m body at (50, 50) facing +x.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clock.NewMock(),
		grid:    raster.NewGrid(100, 100),
		backend: memory.New(config.MemoryConfig{OutputDir: t.TempDir()}),
		packets: make(map[string][]byte),
	}
	w := world.New(world.Config{Scale: 10, TimeStep: 100 * time.Millisecond}, f.clock)
	f.sim = New(Dependencies{
		World:   w,
		Surface: f.grid,
		Backend: f.backend,
		Logger:  slog.Default(),
		Sink: func(id string, packet []byte) {
			f.packets[id] = packet
		},
	})
	_, err := f.sim.AddDevice(device.Config{
		ID:     "robot1",
		Width:  1,
		Length: 2,
		Pose:   core.Pose{X: 50, Y: 50},
		Color:  red,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) device(t *testing.T) *device.Pioneer {
	t.Helper()
	e, err := f.sim.Devices().Lookup("robot1")
	require.NoError(t, err)
	return e.Device
}

func TestAddDevice(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 1, f.sim.Devices().Len())
	assert.Positive(t, f.grid.Count(red), "body should be drawn on the raster")
	assert.Equal(t, 10.0, f.device(t).Scale())

	_, err := f.sim.AddDevice(device.Config{ID: "robot1", Width: 1, Length: 1, Color: 2})
	assert.ErrorIs(t, err, cache.ErrDuplicateDevice)

	_, err = f.sim.AddDevice(device.Config{})
	assert.Error(t, err)
}

func TestAddDevice_Color(t *testing.T) {
	tests := []struct {
		name  string
		color core.Color
		want  error
	}{
		{"free space", 0, ErrReservedColor},
		{"obstacle", core.Obstacle, ErrReservedColor},
		{"shared with robot1", red, ErrColorInUse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.grid.Count(tt.color)

			_, err := f.sim.AddDevice(device.Config{
				ID: "robot2", Width: 1, Length: 1,
				Pose:  core.Pose{X: 20, Y: 20},
				Color: tt.color,
			})

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, f.sim.Devices().Len())
			assert.Equal(t, before, f.grid.Count(tt.color), "rejected body must not be drawn")
		})
	}

	f := newFixture(t)
	_, err := f.sim.AddDevice(device.Config{
		ID: "robot2", Width: 1, Length: 1,
		Pose:  core.Pose{X: 20, Y: 20},
		Color: 0x00ff00,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, f.sim.Devices().Len())
}

func TestPacketAndPose(t *testing.T) {
	f := newFixture(t)

	pkt, err := f.sim.Packet("robot1")
	require.NoError(t, err)
	assert.Empty(t, pkt)

	f.device(t).SetCommand(core.VelocityCommand{Linear: 1})
	f.sim.Tick()

	pkt, err = f.sim.Packet("robot1")
	require.NoError(t, err)
	assert.Equal(t, f.packets["robot1"], pkt)
	pkt[0] ^= 0xff
	assert.NotEqual(t, f.packets["robot1"], pkt, "caller gets a copy")

	pose, err := f.sim.Pose("robot1")
	require.NoError(t, err)
	assert.InDelta(t, 51.0, pose.X, 1e-9)

	_, err = f.sim.Packet("ghost")
	assert.ErrorIs(t, err, cache.ErrUnknownDevice)
	_, err = f.sim.Pose("ghost")
	assert.ErrorIs(t, err, cache.ErrUnknownDevice)
}

func TestTick_MovesAndRecords(t *testing.T) {
	f := newFixture(t)
	sess, err := f.sim.StartSession(SessionOptions{Tag: "test"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, "robot1", sess.DeviceID)
	assert.Equal(t, 100.0, sess.Width)

	require.NoError(t, f.sim.SubmitCommand("robot1", device.EncodeCommand(1000, 0)))
	f.sim.Tick()

	dev := f.device(t)
	assert.InDelta(t, 51.0, dev.Pose().X, 1e-9)
	assert.False(t, dev.Stalled())
	assert.Equal(t, uint64(1), f.sim.Ticks())

	frames := f.backend.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, uint64(1), frames[0].Tick)
	assert.Equal(t, int64(100), frames[0].ElapsedMs)
	assert.Equal(t, dev.Pose(), frames[0].Pose)
	assert.Equal(t, dev.Packet(), frames[0].Packet)
	assert.Equal(t, dev.Packet(), f.packets["robot1"])
}

func TestTick_NoSessionDoesNotRecord(t *testing.T) {
	f := newFixture(t)
	f.sim.Tick()

	assert.Empty(t, f.backend.Frames())
	assert.Len(t, f.packets["robot1"], 21)
}

func TestTick_CollisionStalls(t *testing.T) {
	f := newFixture(t)
	f.grid.FillRect(image.Rect(61, 0, 80, 100), core.Obstacle)
	_, err := f.sim.StartSession(SessionOptions{})
	require.NoError(t, err)

	require.NoError(t, f.sim.SubmitCommand("robot1", device.EncodeCommand(2000, 0)))
	f.sim.Tick()

	dev := f.device(t)
	assert.Equal(t, 50.0, dev.Pose().X)
	assert.True(t, dev.Stalled())
	assert.Equal(t, core.OdometryState{}, dev.Odometry())

	collisions := f.backend.Collisions()
	require.Len(t, collisions, 1)
	assert.InDelta(t, 52.0, collisions[0].Attempted.X, 1e-9)
	assert.Equal(t, 50.0, collisions[0].From.X)

	st := f.sim.Status()
	assert.Equal(t, uint64(1), st.Collisions)
	assert.Equal(t, uint64(1), st.Stalls)
}

func TestTick_StallsCountEvents(t *testing.T) {
	f := newFixture(t)
	f.grid.FillRect(image.Rect(61, 0, 80, 100), core.Obstacle)
	forward := device.EncodeCommand(2000, 0)
	back := device.EncodeCommand(-2000, 0)

	for _, cmd := range [][]byte{forward, forward, forward, back, forward, forward} {
		require.NoError(t, f.sim.SubmitCommand("robot1", cmd))
		f.sim.Tick()
	}

	st := f.sim.Status()
	assert.Equal(t, uint64(4), st.Collisions)
	assert.Equal(t, uint64(2), st.Stalls)
	assert.True(t, f.device(t).Stalled())
	assert.InDelta(t, 50.0, f.device(t).Pose().X, 1e-9)
}

func TestHold_SkipsMoves(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.Hold("robot1"))
	f.device(t).SetCommand(core.VelocityCommand{Linear: 1})

	f.sim.Tick()
	assert.Equal(t, 50.0, f.device(t).Pose().X)

	require.NoError(t, f.sim.Release("robot1"))
	f.sim.Tick()
	assert.InDelta(t, 51.0, f.device(t).Pose().X, 1e-9)

	assert.ErrorIs(t, f.sim.Hold("ghost"), cache.ErrUnknownDevice)
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	f.device(t).SetCommand(core.VelocityCommand{Linear: 1, Angular: 1})

	require.NoError(t, f.sim.Stop("robot1"))
	assert.True(t, f.device(t).Command().IsZero())
	assert.ErrorIs(t, f.sim.Stop("ghost"), cache.ErrUnknownDevice)
}

func TestSetPose_RecordsPoseEvent(t *testing.T) {
	f := newFixture(t)
	_, err := f.sim.StartSession(SessionOptions{})
	require.NoError(t, err)

	target := core.Pose{X: 30, Y: 40, Heading: 1}
	require.NoError(t, f.sim.SetPose("robot1", core.SetPoseRequest{Mean: target}))
	assert.Equal(t, target, f.device(t).Pose())

	events := f.backend.PoseEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.PoseEventSetPose, events[0].Kind)
	assert.Equal(t, target, events[0].Pose)
}

func TestProcessLocalize_Unsupported(t *testing.T) {
	f := newFixture(t)
	before := f.device(t).Pose()

	reply, err := f.sim.ProcessLocalize("robot1", localize.Message{
		Header: localize.Header{Type: localize.MsgTypeCmd, Subtype: 9},
	})
	assert.ErrorIs(t, err, localize.ErrUnsupportedMessage)
	assert.Equal(t, localize.MsgTypeRespNack, reply.Type)
	assert.Equal(t, before, f.device(t).Pose())

	_, err = f.sim.ProcessLocalize("ghost", localize.Message{})
	assert.ErrorIs(t, err, cache.ErrUnknownDevice)
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	_, err := f.sim.StartSession(SessionOptions{})
	require.NoError(t, err)

	msg, err := f.sim.Publish("robot1")
	require.NoError(t, err)
	assert.Equal(t, localize.MsgTypeData, msg.Type)
	data, ok := msg.Payload.(core.LocalizeData)
	require.True(t, ok)
	require.Len(t, data.Hypotheses, 1)
	assert.Equal(t, f.device(t).Pose(), data.Hypotheses[0].Mean)

	events := f.backend.PoseEvents()
	require.Len(t, events, 1)
	assert.Equal(t, core.PoseEventHypothesis, events[0].Kind)
	assert.Equal(t, 1.0, events[0].Alpha)
}

func TestSession_Lifecycle(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.sim.EndSession(), ErrNoSession)

	sess, err := f.sim.StartSession(SessionOptions{})
	require.NoError(t, err)

	got, ok := f.sim.Session()
	require.True(t, ok)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Contains(t, f.sim.LogContext(), slog.String("session", sess.SessionID))

	f.sim.Tick()
	require.NoError(t, f.sim.EndSession())
	assert.NotEmpty(t, f.backend.GetExportedFilePath())

	_, ok = f.sim.Session()
	assert.False(t, ok)
	assert.Len(t, f.sim.LogContext(), 1)
}

func TestStartSession_NoDevices(t *testing.T) {
	s := New(Dependencies{
		World:   world.New(world.Config{TimeStep: time.Second}, clock.NewMock()),
		Surface: raster.NewGrid(10, 10),
	})
	_, err := s.StartSession(SessionOptions{})
	assert.Error(t, err)
}

func TestStatus_QueueSources(t *testing.T) {
	f := newFixture(t)
	f.sim.AddQueueSource(func() map[string]int { return map[string]int{"frames": 3} })
	f.sim.AddQueueSource(func() map[string]int { return map[string]int{"position.cmd": 1} })

	st := f.sim.Status()
	assert.Equal(t, 1, st.Devices)
	assert.Equal(t, map[string]int{"frames": 3, "position.cmd": 1}, st.QueueLengths)
}

func TestRecordStatus(t *testing.T) {
	f := newFixture(t)
	sample := f.sim.Status()

	// dropped without a session
	require.NoError(t, f.sim.RecordStatus(&sample))

	_, err := f.sim.StartSession(SessionOptions{})
	require.NoError(t, err)
	require.NoError(t, f.sim.RecordStatus(&sample))
}

func TestRun_TicksOnClock(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sim.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.clock.Add(100 * time.Millisecond)
		return f.sim.Ticks() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_InvalidTimeStep(t *testing.T) {
	s := New(Dependencies{
		World:   world.New(world.Config{}, clock.NewMock()),
		Surface: raster.NewGrid(10, 10),
	})
	assert.Error(t, s.Run(context.Background()))
}

func TestUptimeFollowsWallClock(t *testing.T) {
	f := newFixture(t)
	f.clock.Add(3 * time.Second)
	f.sim.Tick()

	assert.Equal(t, 3*time.Second, f.sim.Uptime())
	assert.Equal(t, 100*time.Millisecond, f.sim.Elapsed())
}

func TestWriteMap(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, f.sim.WriteMap(&buf))

	img, err := ppm.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 100), img.Bounds())

	c := f.device(t).Footprint().Corners()[0]
	r, g, b, _ := img.At(c.X, c.Y).RGBA()
	assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b}, "body outline is drawn in its color")
}
