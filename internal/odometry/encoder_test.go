package odometry

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Layout(t *testing.T) {
	buf := Encode(State{
		Elapsed: 2500 * time.Millisecond,
		Pose:    core.Pose{X: 100, Y: 50, Heading: 0},
		Scale:   1,
	})

	require.Len(t, buf, PacketSize)
	assert.Equal(t, uint32(2500), binary.BigEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(100000), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(50000), binary.BigEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(buf[12:14]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(buf[14:16]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(buf[16:18]))
	assert.Equal(t, wrap16(core.NormalizeAngle(math.Pi/2)*radToDeg), binary.BigEndian.Uint16(buf[18:20]))
	assert.Equal(t, byte(0), buf[20])
}

func TestEncode_RelativeToOrigin(t *testing.T) {
	p, err := Decode(Encode(State{
		Pose:   core.Pose{X: 150, Y: 20},
		Origin: core.Pose{X: 100, Y: 40},
		Scale:  10,
	}))
	require.NoError(t, err)

	assert.Equal(t, int32(5000), p.XMm)
	assert.Equal(t, int32(-2000), p.YMm)
}

func TestEncode_NegativeValuesWrap(t *testing.T) {
	buf := Encode(State{
		Command: core.VelocityCommand{Linear: -3.7, Angular: -1},
		Scale:   1,
	})

	// int32(-3.7) = -3, int32(-57.29...) = -57
	assert.Equal(t, uint16(65533), binary.BigEndian.Uint16(buf[14:16]))
	assert.Equal(t, uint16(65479), binary.BigEndian.Uint16(buf[16:18]))
}

func TestEncode_Stall(t *testing.T) {
	buf := Encode(State{Stall: true, Scale: 1})
	assert.Equal(t, byte(1), buf[20])
}

func TestEncode_HeadingIsMirroredFromOrigin(t *testing.T) {
	buf := Encode(State{
		Pose:   core.Pose{Heading: 1},
		Origin: core.Pose{Heading: 0},
		Scale:  1,
	})

	want := wrap16(core.NormalizeAngle(-1) * radToDeg)
	assert.Equal(t, want, binary.BigEndian.Uint16(buf[12:14]))
	assert.Equal(t, uint16(302), want)
}

func TestEncode_ZeroScaleTreatedAsOne(t *testing.T) {
	p, err := Decode(Encode(State{Pose: core.Pose{X: 2}}))
	require.NoError(t, err)
	assert.Equal(t, int32(2000), p.XMm)
}

func TestDecode(t *testing.T) {
	buf := Encode(State{
		Elapsed: 1234 * time.Millisecond,
		Pose:    core.Pose{X: 12, Y: -3, Heading: 0},
		Scale:   1,
		Command: core.VelocityCommand{Linear: 2},
		Stall:   true,
	})

	got, err := Decode(buf)
	require.NoError(t, err)

	want := Packet{
		TimeMs:         1234,
		XMm:            12000,
		YMm:            -3000,
		Heading:        0,
		Speed:          2,
		TurnRate:       0,
		CompassHeading: wrap16(core.NormalizeAngle(math.Pi/2) * radToDeg),
		Stall:          1,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Short(t *testing.T) {
	_, err := Decode(make([]byte, PacketSize-1))
	assert.ErrorIs(t, err, ErrShortPacket)
}
