package storage_test

import (
	"errors"
	"testing"

	"github.com/stagesim/pioneer/internal/storage"
	"github.com/stagesim/pioneer/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type recordingBackend struct {
	name   string
	calls  *[]string
	failOn string
}

func (r *recordingBackend) call(op string) error {
	*r.calls = append(*r.calls, r.name+":"+op)
	if op == r.failOn {
		return errors.New(r.name + " failed " + op)
	}
	return nil
}

func (r *recordingBackend) Init() error                             { return r.call("init") }
func (r *recordingBackend) Close() error                            { return r.call("close") }
func (r *recordingBackend) StartSession(*core.Session) error        { return r.call("start") }
func (r *recordingBackend) EndSession() error                       { return r.call("end") }
func (r *recordingBackend) RecordFrame(*core.OdometryFrame) error   { return r.call("frame") }
func (r *recordingBackend) RecordCollision(*core.CollisionEvent) error {
	return r.call("collision")
}
func (r *recordingBackend) RecordPoseEvent(*core.PoseEvent) error { return r.call("pose") }
func (r *recordingBackend) RecordStatus(*core.StatusSample) error { return r.call("status") }

type uploadableBackend struct {
	recordingBackend
}

func (u *uploadableBackend) GetExportedFilePath() string { return "/tmp/out.json.gz" }
func (u *uploadableBackend) GetExportMetadata() core.UploadMetadata {
	return core.UploadMetadata{SessionName: "s", DeviceID: "robot1"}
}

var _ storage.Backend = (*storage.Multi)(nil)

func TestMultiFansOutInOrder(t *testing.T) {
	var calls []string
	a := &recordingBackend{name: "a", calls: &calls}
	b := &recordingBackend{name: "b", calls: &calls}
	m := storage.NewMulti(a, b)

	require.NoError(t, m.Init())
	require.NoError(t, m.StartSession(&core.Session{}))
	require.NoError(t, m.RecordFrame(&core.OdometryFrame{}))
	require.NoError(t, m.RecordCollision(&core.CollisionEvent{}))
	require.NoError(t, m.RecordPoseEvent(&core.PoseEvent{}))
	require.NoError(t, m.RecordStatus(&core.StatusSample{}))
	require.NoError(t, m.EndSession())
	require.NoError(t, m.Close())

	assert.Equal(t, []string{
		"a:init", "b:init",
		"a:start", "b:start",
		"a:frame", "b:frame",
		"a:collision", "b:collision",
		"a:pose", "b:pose",
		"a:status", "b:status",
		"a:end", "b:end",
		"b:close", "a:close",
	}, calls)
}

func TestMultiCombinesErrors(t *testing.T) {
	var calls []string
	a := &recordingBackend{name: "a", calls: &calls, failOn: "frame"}
	b := &recordingBackend{name: "b", calls: &calls, failOn: "frame"}
	m := storage.NewMulti(a, b)

	err := m.RecordFrame(&core.OdometryFrame{})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []string{"a:frame", "b:frame"}, calls, "failure must not stop later backends")
}

func TestMultiUploadables(t *testing.T) {
	var calls []string
	plain := &recordingBackend{name: "a", calls: &calls}
	up := &uploadableBackend{recordingBackend{name: "b", calls: &calls}}
	m := storage.NewMulti(plain, up)

	ups := m.Uploadables()
	require.Len(t, ups, 1)
	assert.Equal(t, "/tmp/out.json.gz", ups[0].GetExportedFilePath())
	assert.Len(t, m.Backends(), 2)
}

func TestMultiEmpty(t *testing.T) {
	m := storage.NewMulti()
	assert.NoError(t, m.Init())
	assert.NoError(t, m.RecordFrame(&core.OdometryFrame{}))
	assert.NoError(t, m.Close())
	assert.Empty(t, m.Uploadables())
}
