package worker

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stagesim/pioneer/internal/device"
	"github.com/stagesim/pioneer/internal/dispatcher"
	"github.com/stagesim/pioneer/internal/influx"
	"github.com/stagesim/pioneer/internal/localize"
	"github.com/stagesim/pioneer/internal/odometry"
	"github.com/stagesim/pioneer/internal/parser"
	"github.com/stagesim/pioneer/internal/sim"
	"github.com/stagesim/pioneer/internal/util"
	"github.com/stagesim/pioneer/pkg/core"
)

// ErrNoPacket is returned when a device has not been updated yet.
var ErrNoPacket = errors.New("no odometry packet yet")

// RegisterHandlers registers all front-end commands with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Velocity commands are latched by the device, so they never queue.
	d.Register("position.cmd", m.handlePositionCmd, dispatcher.Logged())
	d.Register("position.stop", m.handlePositionStop, dispatcher.Logged())
	d.Register("position.data", m.handlePositionData)

	d.Register("drag", m.handleDrag, dispatcher.Logged())
	d.Register("release", m.handleRelease, dispatcher.Logged())

	d.Register("localize.set_pose", m.handleSetPose, dispatcher.Logged())
	d.Register("localize.get_particles", m.handleGetParticles)
	d.Register("localize.data", m.handleLocalizeData)
	d.Register("localize.req", m.handleLocalizeReq, dispatcher.Logged())

	d.Register("session.start", m.handleSessionStart, dispatcher.Logged())
	d.Register("session.end", m.handleSessionEnd, dispatcher.Logged())
	d.Register("status", m.handleStatus)
	d.Register("map.snapshot", m.handleMapSnapshot, dispatcher.Logged())

	if m.deps.Log != nil {
		d.Register("log", m.handleLog, dispatcher.Buffered(1000))
	}

	if m.deps.Metrics != nil {
		// Metrics are fire-and-forget - buffered
		d.Register("metric", m.handleMetric, dispatcher.Buffered(1000), dispatcher.Logged())
	}
}

func (m *Manager) handlePositionCmd(e dispatcher.Event) (any, error) {
	cmd, err := m.deps.ParserService.ParsePositionCommand(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse position command: %w", err)
	}
	if err := m.deps.Sim.SubmitCommand(cmd.DeviceID, device.EncodeCommand(cmd.SpeedMmS, cmd.TurnDegS)); err != nil {
		return nil, fmt.Errorf("failed to submit position command: %w", err)
	}
	return nil, nil
}

func (m *Manager) handlePositionStop(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	return nil, m.deps.Sim.Stop(id)
}

// handlePositionData returns the last odometry record as hex.
func (m *Manager) handlePositionData(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	packet, err := m.deps.Sim.Packet(id)
	if err != nil {
		return nil, err
	}
	if len(packet) != odometry.PacketSize {
		return nil, fmt.Errorf("%w: %s", ErrNoPacket, id)
	}
	return hex.EncodeToString(packet), nil
}

func (m *Manager) handleDrag(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	return nil, m.deps.Sim.Hold(id)
}

func (m *Manager) handleRelease(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	return nil, m.deps.Sim.Release(id)
}

func (m *Manager) handleSetPose(e dispatcher.Event) (any, error) {
	id, req, err := m.deps.ParserService.ParseSetPose(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse set pose: %w", err)
	}
	if err := m.deps.Sim.SetPose(id, req); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *Manager) handleGetParticles(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	reply, err := m.deps.Sim.ProcessLocalize(id, localize.Message{
		Header: localize.Header{Type: localize.MsgTypeReq, Subtype: localize.ReqGetParticles},
	})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

func (m *Manager) handleLocalizeData(e dispatcher.Event) (any, error) {
	id, err := m.deps.ParserService.ParseDeviceID(e.Args)
	if err != nil {
		return nil, err
	}
	msg, err := m.deps.Sim.Publish(id)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

// handleLocalizeReq forwards a raw (type, subtype) request. The reply is
// returned even on failure so clients see the NACK.
func (m *Manager) handleLocalizeReq(e dispatcher.Event) (any, error) {
	req, err := m.deps.ParserService.ParseLocalizeMessage(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse localize request: %w", err)
	}

	msg := localize.Message{Header: localize.Header{Type: req.Type, Subtype: req.Subtype}}
	if req.Pose != nil {
		msg.Payload = core.SetPoseRequest{Mean: *req.Pose}
	}
	reply, err := m.deps.Sim.ProcessLocalize(req.DeviceID, msg)
	if err != nil {
		if errors.Is(err, localize.ErrUnsupportedMessage) || errors.Is(err, localize.ErrInvalidPayload) {
			return reply, err
		}
		return nil, err
	}
	return reply, nil
}

func (m *Manager) handleSessionStart(e dispatcher.Event) (any, error) {
	tag := m.deps.DefaultTag
	if len(e.Args) > 0 {
		if t := util.TrimQuotes(e.Args[0]); t != "" {
			tag = t
		}
	}
	sess, err := m.deps.Sim.StartSession(sim.SessionOptions{MapFile: m.deps.MapFile, Tag: tag})
	if err != nil {
		return nil, err
	}
	return sess.SessionID, nil
}

func (m *Manager) handleSessionEnd(dispatcher.Event) (any, error) {
	return nil, m.deps.Sim.EndSession()
}

func (m *Manager) handleStatus(dispatcher.Event) (any, error) {
	return m.deps.Sim.Status(), nil
}

// handleMapSnapshot writes the raster to the PPM file named by the first arg.
func (m *Manager) handleMapSnapshot(e dispatcher.Event) (any, error) {
	if len(e.Args) < 1 || util.TrimQuotes(e.Args[0]) == "" {
		return nil, fmt.Errorf("%w: map.snapshot needs a file path", parser.ErrInvalidArgs)
	}
	path := util.TrimQuotes(e.Args[0])
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if err := m.deps.Sim.WriteMap(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write map: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return path, nil
}

// handleLog forwards a client log line: component|level|message.
func (m *Manager) handleLog(e dispatcher.Event) (any, error) {
	if len(e.Args) < 3 {
		return nil, fmt.Errorf("%w: log needs component, level and message", parser.ErrInvalidArgs)
	}
	msg := util.FixEscapeQuotes(util.TrimQuotes(strings.Join(e.Args[2:], string(util.FieldSeparator))))
	m.deps.Log.WriteLog(util.TrimQuotes(e.Args[0]), msg, util.TrimQuotes(e.Args[1]))
	return nil, nil
}

func (m *Manager) handleMetric(e dispatcher.Event) (any, error) {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = util.FixEscapeQuotes(util.TrimQuotes(a))
	}
	bucket, point, err := influx.ParseMetric(args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", parser.ErrInvalidArgs, err)
	}
	if err := m.deps.Metrics.WritePointTo(bucket, point); err != nil {
		return nil, fmt.Errorf("failed to write metric: %w", err)
	}
	return nil, nil
}
