package device

import (
	"encoding/binary"
	"math"

	"github.com/stagesim/pioneer/pkg/core"
)

// CommandSize is the length of a raw velocity command: two big-endian
// int16 values, linear speed in mm/s then turn rate in deg/s.
const CommandSize = 4

// EncodeCommand builds a raw command buffer.
func EncodeCommand(speedMmS, turnDegS int16) []byte {
	buf := make([]byte, CommandSize)
	binary.BigEndian.PutUint16(buf[0:], uint16(speedMmS))
	binary.BigEndian.PutUint16(buf[2:], uint16(turnDegS))
	return buf
}

// DecodeCommand converts a raw buffer into SI velocities. Positive turn
// rates on the wire are clockwise, so the sign is flipped.
func DecodeCommand(buf []byte) (core.VelocityCommand, error) {
	if len(buf) != CommandSize {
		return core.VelocityCommand{}, ErrInvalidCommand
	}
	v := int16(binary.BigEndian.Uint16(buf[0:]))
	w := int16(binary.BigEndian.Uint16(buf[2:]))
	return core.VelocityCommand{
		Linear:  0.001 * float64(v),
		Angular: -(math.Pi / 180.0) * float64(w),
	}, nil
}

// ParseCommand decodes buf and applies it unless the body is held.
func (p *Pioneer) ParseCommand(buf []byte) error {
	cmd, err := DecodeCommand(buf)
	if err != nil {
		return err
	}
	if p.deps.Manual.IsUnderManualControl() {
		return nil
	}
	p.SetCommand(cmd)
	return nil
}
