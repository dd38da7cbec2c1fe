package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/stagesim/pioneer/internal/util"
	"github.com/stagesim/pioneer/pkg/core"
)

// ErrInvalidArgs is returned when a front-end command has the wrong shape.
var ErrInvalidArgs = errors.New("invalid arguments")

// parseIntFromFloat parses a string that may be an integer ("250") or float ("250.00") into int64.
// Scripted front ends often serialise every number as a float.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("parseIntFromFloat: %q is not a valid int64", s)
	}
	return int64(f), nil
}

func parseInt16(s string) (int16, error) {
	v, err := parseIntFromFloat(s)
	if err != nil {
		return 0, err
	}
	if v < math.MinInt16 || v > math.MaxInt16 {
		return 0, fmt.Errorf("%d out of int16 range", v)
	}
	return int16(v), nil
}

func parseUint8(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// PositionCommand is a raw velocity command in wire units.
type PositionCommand struct {
	DeviceID string
	SpeedMmS int16 // mm/s
	TurnDegS int16 // deg/s
}

// LocalizeMessage is a localize request addressed by numeric type and subtype.
// Pose is set when the arguments carried one.
type LocalizeMessage struct {
	DeviceID string
	Type     uint8
	Subtype  uint8
	Pose     *core.Pose
}

// Parser converts front-end argument lists into typed requests.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func clean(data []string) []string {
	out := make([]string, len(data))
	for i, v := range data {
		out[i] = util.FixEscapeQuotes(util.TrimQuotes(v))
	}
	return out
}

func expect(data []string, n int, usage string) error {
	if len(data) != n {
		return fmt.Errorf("%w: expected %s, got %d fields", ErrInvalidArgs, usage, len(data))
	}
	return nil
}

// ParseDeviceID parses a single device id argument.
func (p *Parser) ParseDeviceID(data []string) (string, error) {
	data = clean(data)
	if err := expect(data, 1, "<device>"); err != nil {
		return "", err
	}
	if data[0] == "" {
		return "", fmt.Errorf("%w: empty device id", ErrInvalidArgs)
	}
	return data[0], nil
}

// ParsePositionCommand parses <device> <speed mm/s> <turn deg/s>.
func (p *Parser) ParsePositionCommand(data []string) (PositionCommand, error) {
	var cmd PositionCommand

	data = clean(data)
	if err := expect(data, 3, "<device> <speed> <turn>"); err != nil {
		return cmd, err
	}
	cmd.DeviceID = data[0]

	speed, err := parseInt16(data[1])
	if err != nil {
		return cmd, fmt.Errorf("%w: speed: %v", ErrInvalidArgs, err)
	}
	turn, err := parseInt16(data[2])
	if err != nil {
		return cmd, fmt.Errorf("%w: turn rate: %v", ErrInvalidArgs, err)
	}
	cmd.SpeedMmS = speed
	cmd.TurnDegS = turn

	p.logger.Debug("Parsed position command",
		"device", cmd.DeviceID, "speed", speed, "turn", turn)
	return cmd, nil
}

// ParsePose parses <x> <y> <heading radians>.
func (p *Parser) ParsePose(data []string) (core.Pose, error) {
	var pose core.Pose
	data = clean(data)
	if err := expect(data, 3, "<x> <y> <heading>"); err != nil {
		return pose, err
	}
	vals := make([]float64, 3)
	for i, s := range data {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return pose, fmt.Errorf("%w: pose field %d: %v", ErrInvalidArgs, i, err)
		}
		vals[i] = f
	}
	pose.X, pose.Y, pose.Heading = vals[0], vals[1], vals[2]
	return pose, nil
}

// ParseSetPose parses <device> <x> <y> <heading>.
func (p *Parser) ParseSetPose(data []string) (string, core.SetPoseRequest, error) {
	var req core.SetPoseRequest
	data = clean(data)
	if len(data) != 4 {
		return "", req, fmt.Errorf("%w: expected <device> <x> <y> <heading>, got %d fields", ErrInvalidArgs, len(data))
	}
	pose, err := p.ParsePose(data[1:])
	if err != nil {
		return "", req, err
	}
	req.Mean = pose
	return data[0], req, nil
}

// ParseLocalizeMessage parses <device> <type> <subtype> [<x> <y> <heading>].
func (p *Parser) ParseLocalizeMessage(data []string) (LocalizeMessage, error) {
	var msg LocalizeMessage
	data = clean(data)
	if len(data) != 3 && len(data) != 6 {
		return msg, fmt.Errorf("%w: expected <device> <type> <subtype> [<x> <y> <heading>], got %d fields", ErrInvalidArgs, len(data))
	}
	msg.DeviceID = data[0]

	var err error
	if msg.Type, err = parseUint8(data[1]); err != nil {
		return msg, fmt.Errorf("%w: type: %v", ErrInvalidArgs, err)
	}
	if msg.Subtype, err = parseUint8(data[2]); err != nil {
		return msg, fmt.Errorf("%w: subtype: %v", ErrInvalidArgs, err)
	}
	if len(data) == 6 {
		pose, err := p.ParsePose(data[3:])
		if err != nil {
			return msg, err
		}
		msg.Pose = &pose
	}
	return msg, nil
}
