// Package odometry encodes the fixed 21-byte position record a device
// publishes every tick.
package odometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stagesim/pioneer/pkg/core"
)

// PacketSize is the length of an encoded record.
const PacketSize = 21

const radToDeg = 180.0 / math.Pi

// ErrShortPacket is returned when decoding fewer than PacketSize bytes.
var ErrShortPacket = errors.New("odometry packet too short")

// State is everything the encoder reads from a device.
type State struct {
	Elapsed time.Duration
	Pose    core.Pose
	Origin  core.Pose
	Scale   float64
	Command core.VelocityCommand
	Stall   bool
}

// Packet is the decoded form of a record. Positions are millimetres from
// the origin, angles whole degrees.
type Packet struct {
	TimeMs         int32  `json:"timeMs"`
	XMm            int32  `json:"xMm"`
	YMm            int32  `json:"yMm"`
	Heading        uint16 `json:"heading"`
	Speed          uint16 `json:"speed"`
	TurnRate       uint16 `json:"turnRate"`
	CompassHeading uint16 `json:"compassHeading"`
	Stall          uint8  `json:"stall"`
}

// Encode serialises s big-endian. Numeric truncation is silent; negative
// values destined for unsigned fields wrap through int32.
func Encode(s State) []byte {
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}

	buf := make([]byte, PacketSize)
	binary.BigEndian.PutUint32(buf[0:], uint32(int32(s.Elapsed.Milliseconds())))
	binary.BigEndian.PutUint32(buf[4:], uint32(int32((s.Pose.X-s.Origin.X)/scale*1000.0)))
	binary.BigEndian.PutUint32(buf[8:], uint32(int32((s.Pose.Y-s.Origin.Y)/scale*1000.0)))

	heading := core.NormalizeAngle(s.Origin.Heading - s.Pose.Heading)
	binary.BigEndian.PutUint16(buf[12:], wrap16(heading*radToDeg))
	binary.BigEndian.PutUint16(buf[14:], wrap16(s.Command.Linear))
	binary.BigEndian.PutUint16(buf[16:], wrap16(s.Command.Angular*radToDeg))

	compass := core.NormalizeAngle(s.Pose.Heading + math.Pi/2)
	binary.BigEndian.PutUint16(buf[18:], wrap16(compass*radToDeg))

	if s.Stall {
		buf[20] = 1
	}
	return buf
}

func wrap16(v float64) uint16 {
	return uint16(int32(v))
}

// Decode parses the first PacketSize bytes of b.
func Decode(b []byte) (Packet, error) {
	if len(b) < PacketSize {
		return Packet{}, fmt.Errorf("%w: got %d bytes", ErrShortPacket, len(b))
	}
	return Packet{
		TimeMs:         int32(binary.BigEndian.Uint32(b[0:])),
		XMm:            int32(binary.BigEndian.Uint32(b[4:])),
		YMm:            int32(binary.BigEndian.Uint32(b[8:])),
		Heading:        binary.BigEndian.Uint16(b[12:]),
		Speed:          binary.BigEndian.Uint16(b[14:]),
		TurnRate:       binary.BigEndian.Uint16(b[16:]),
		CompassHeading: binary.BigEndian.Uint16(b[18:]),
		Stall:          b[20],
	}, nil
}
