package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagesim/pioneer/internal/storage"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stagesim/pioneer/pkg/streaming"
)

// Compile-time interface check.
var _ storage.Backend = (*Backend)(nil)

// testServer upgrades to WebSocket, records received messages and acks
// start_session/end_session. With dropFirst set, the first connection is
// closed right after its start_session ack.
func testServer(t *testing.T, dropFirst bool) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.connected(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()
		first := ml.connections() == 1

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeStartSession || env.Type == streaming.TypeEndSession {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
				if dropFirst && first && env.Type == streaming.TypeStartSession {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []streaming.Envelope
	secrets  []string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) connected(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, secret)
}

func (m *messageLog) connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.secrets)
}

func (m *messageLog) all() []streaming.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]streaming.Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) count(msgType string) int {
	n := 0
	for _, env := range m.all() {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStartAndEndSession(t *testing.T) {
	srv, ml := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "test"}, nil, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{SessionID: "abc", DeviceID: "robot1"}))
	require.NoError(t, b.EndSession())

	msgs := ml.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, streaming.TypeStartSession, msgs[0].Type)
	assert.Equal(t, streaming.TypeEndSession, msgs[len(msgs)-1].Type)

	var start streaming.StartSessionPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "robot1", start.Session.DeviceID)

	var end streaming.EndSessionPayload
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &end))
	assert.Equal(t, "abc", end.SessionID)
	assert.Equal(t, []string{"test"}, ml.secrets)
}

func TestFireAndForgetMessages(t *testing.T) {
	srv, ml := testServer(t, false)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{SessionID: "abc"}))
	require.NoError(t, b.RecordFrame(&core.OdometryFrame{Tick: 1}))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 1}))
	require.NoError(t, b.RecordPoseEvent(&core.PoseEvent{Kind: core.PoseEventSetPose}))
	require.NoError(t, b.RecordStatus(&core.StatusSample{Ticks: 1}))
	// the end_session ack arrives after every earlier message was read
	require.NoError(t, b.EndSession())

	assert.Equal(t, 1, ml.count(streaming.TypeStartSession))
	assert.Equal(t, 1, ml.count(streaming.TypeOdometryFrame))
	assert.Equal(t, 1, ml.count(streaming.TypeCollision))
	assert.Equal(t, 1, ml.count(streaming.TypePoseEvent))
	assert.Equal(t, 1, ml.count(streaming.TypeStatus))
	assert.Equal(t, 1, ml.count(streaming.TypeEndSession))
	assert.Zero(t, b.Dropped())
}

func TestReconnectReplaysStartSession(t *testing.T) {
	srv, ml := testServer(t, true)
	defer srv.Close()

	clk := clock.NewMock()
	b := New(Config{URL: wsURL(srv), Secret: "s"}, nil, clk)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartSession(&core.Session{SessionID: "abc"}))

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return ml.connections() == 2 && ml.count(streaming.TypeStartSession) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestInitFailsWithoutServer(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/nowhere"}, nil, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInvalidURL(t *testing.T) {
	b := New(Config{URL: "://bad"}, nil, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid websocket URL")
}

func TestMarshalEnvelope(t *testing.T) {
	data, err := marshalEnvelope(streaming.TypeOdometryFrame, core.OdometryFrame{Tick: 42})
	require.NoError(t, err)

	var decoded streaming.Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, streaming.TypeOdometryFrame, decoded.Type)

	var f core.OdometryFrame
	require.NoError(t, json.Unmarshal(decoded.Payload, &f))
	assert.Equal(t, uint64(42), f.Tick)
}

func TestMarshalEnvelope_Unsupported(t *testing.T) {
	_, err := marshalEnvelope("bad", make(chan int))
	assert.Error(t, err)
}
