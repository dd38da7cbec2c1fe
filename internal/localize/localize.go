// Package localize serves the localize request/response interface from a
// simulated body's ground-truth pose.
package localize

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/stagesim/pioneer/internal/dispatcher"
	"github.com/stagesim/pioneer/internal/logging"
	"github.com/stagesim/pioneer/pkg/core"
)

// Message types.
const (
	MsgTypeData     uint8 = 1
	MsgTypeCmd      uint8 = 2
	MsgTypeReq      uint8 = 3
	MsgTypeRespAck  uint8 = 4
	MsgTypeSynch    uint8 = 5
	MsgTypeRespNack uint8 = 6
)

// Localize subtypes.
const (
	DataHypoths     uint8 = 1
	ReqSetPose      uint8 = 1
	ReqGetParticles uint8 = 2
)

var (
	// ErrUnsupportedMessage is returned for any (type, subtype) the adapter does not serve.
	ErrUnsupportedMessage = errors.New("unsupported localize message")
	// ErrInvalidPayload is returned when a request carries the wrong payload.
	ErrInvalidPayload = errors.New("invalid localize payload")
)

// Header identifies a message by type and subtype.
type Header struct {
	Type    uint8 `json:"type"`
	Subtype uint8 `json:"subtype"`
}

// Message is one localize interface message addressed to a device.
type Message struct {
	Header
	DeviceID string `json:"deviceId"`
	Payload  any    `json:"payload,omitempty"`
}

// Body is the simulated model whose pose is reported as the truth.
type Body interface {
	ID() string
	Pose() core.Pose
	SetPose(core.Pose)
}

// Adapter translates localize messages into reads and writes of a body pose.
type Adapter struct {
	body   Body
	routes *dispatcher.Dispatcher
	logger *slog.Logger
}

// New creates an adapter for body. A nil logger uses slog.Default().
func New(body Body, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("device", body.ID(), "interface", "localize")

	routes, err := dispatcher.New(logging.NewSlogDispatcherLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating localize routes: %w", err)
	}

	a := &Adapter{
		body:   body,
		routes: routes,
		logger: logger,
	}
	routes.Register(routeKey(MsgTypeReq, ReqSetPose), a.handleSetPose)
	routes.Register(routeKey(MsgTypeReq, ReqGetParticles), a.handleGetParticles)

	return a, nil
}

func routeKey(msgType, subtype uint8) string {
	return fmt.Sprintf("%d:%d", msgType, subtype)
}

// Data builds the hypothesis payload: the ground-truth pose, zero
// covariance and full weight.
func (a *Adapter) Data() core.LocalizeData {
	return core.LocalizeData{
		Hypotheses: []core.Hypothesis{{
			Mean:  a.body.Pose(),
			Alpha: 1.0,
		}},
	}
}

// Publish returns the DATA/HYPOTHS message for the current pose.
func (a *Adapter) Publish() Message {
	return Message{
		Header:   Header{Type: MsgTypeData, Subtype: DataHypoths},
		DeviceID: a.body.ID(),
		Payload:  a.Data(),
	}
}

// ProcessMessage answers a request. On success the reply is a RESP_ACK with
// the request's subtype. Failures return a RESP_NACK reply together with the
// error; unsupported messages leave the body untouched.
func (a *Adapter) ProcessMessage(msg Message) (Message, error) {
	result, err := a.routes.Dispatch(dispatcher.Event{
		Command: routeKey(msg.Type, msg.Subtype),
		Payload: msg.Payload,
	})
	if err != nil {
		if errors.Is(err, dispatcher.ErrUnknownCommand) {
			a.logger.Warn("localize doesn't support message", "type", msg.Type, "subtype", msg.Subtype)
			err = fmt.Errorf("%w: %d:%d", ErrUnsupportedMessage, msg.Type, msg.Subtype)
		}
		return a.reply(MsgTypeRespNack, msg.Subtype, nil), err
	}
	return a.reply(MsgTypeRespAck, msg.Subtype, result), nil
}

func (a *Adapter) reply(msgType, subtype uint8, payload any) Message {
	return Message{
		Header:   Header{Type: msgType, Subtype: subtype},
		DeviceID: a.body.ID(),
		Payload:  payload,
	}
}

func (a *Adapter) handleSetPose(e dispatcher.Event) (any, error) {
	var req core.SetPoseRequest
	switch p := e.Payload.(type) {
	case core.SetPoseRequest:
		req = p
	case *core.SetPoseRequest:
		if p == nil {
			return nil, fmt.Errorf("%w: nil set-pose request", ErrInvalidPayload)
		}
		req = *p
	default:
		return nil, fmt.Errorf("%w: expected set-pose request, got %T", ErrInvalidPayload, e.Payload)
	}

	a.body.SetPose(req.Mean)
	a.logger.Debug("pose set", "x", req.Mean.X, "y", req.Mean.Y, "heading", req.Mean.Heading)
	return nil, nil
}

func (a *Adapter) handleGetParticles(dispatcher.Event) (any, error) {
	return core.ParticlesResponse{Mean: a.body.Pose()}, nil
}
