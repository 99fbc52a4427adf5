package plugin

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/config"
	"cancelobject/pkg/errors"
	"cancelobject/pkg/filter"
	"cancelobject/pkg/history"
	"cancelobject/pkg/log"
	"cancelobject/pkg/metrics"
	"cancelobject/pkg/notify"
	"cancelobject/pkg/objects"
)

var operator = auth.Caller{Subject: "operator"}

const slicerOutput = `G28
; process A
G1 X1
G1 X2
; process B
G1 X3
; process A
G1 X4
; process C
G1 X5
`

type fixture struct {
	plugin  *Plugin
	sink    *notify.Recorder
	metrics *metrics.CancelMetrics
	history *history.Store
	file    string
}

func newFixture(t *testing.T, mutate func(*config.Settings)) *fixture {
	t.Helper()
	settings := config.DefaultSettings()
	if mutate != nil {
		mutate(&settings)
	}

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		sink:    &notify.Recorder{},
		metrics: metrics.NewCancelMetrics(),
		history: store,
	}
	f.plugin, err = New(Config{
		Settings: settings,
		Sink:     f.sink,
		History:  store,
		Metrics:  f.metrics,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)

	// Store the file the way an upload would: through the preprocessing hook.
	normalized, err := io.ReadAll(f.plugin.PreprocessFile("part.gcode", strings.NewReader(slicerOutput)))
	require.NoError(t, err)
	f.file = filepath.Join(t.TempDir(), "part.gcode")
	require.NoError(t, os.WriteFile(f.file, normalized, 0o644))
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.plugin.OnEvent(context.Background(), Event{Type: PrintStarted, File: f.file}))
}

func (f *fixture) lastObjects(t *testing.T) []objects.Record {
	t.Helper()
	v, ok := f.sink.Last("objects")
	require.True(t, ok, "no objects message sent")
	return v.([]objects.Record)
}

func (f *fixture) print(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.file)
	require.NoError(t, err)
	var out []string
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if d := f.plugin.QueueCommand(filter.Command{Text: line}); d.Send {
			out = append(out, d.Text)
		}
	}
	return out
}

func TestNewRejectsBadSettings(t *testing.T) {
	settings := config.DefaultSettings()
	settings.ObjectRegex = "; process .*"
	_, err := New(Config{Settings: settings, Logger: log.Discard()})
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestPreprocessFile(t *testing.T) {
	f := newFixture(t, nil)

	out, err := io.ReadAll(f.plugin.PreprocessFile("part.gcode", strings.NewReader("; process A\n\nG1\n")))
	require.NoError(t, err)
	assert.Equal(t, "#Object A\n\nG1\n", string(out))

	out, err = io.ReadAll(f.plugin.PreprocessFile("notes.txt", strings.NewReader("; process A\n\n")))
	require.NoError(t, err)
	assert.Equal(t, "; process A\n\n", string(out))
}

func TestPrintStartedLoadsObjects(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)

	got := f.lastObjects(t)
	require.Len(t, got, 3)
	assert.Equal(t, objects.Record{Name: "A", ID: 0}, got[0])
	assert.Equal(t, objects.Record{Name: "B", ID: 1}, got[1])
	assert.Equal(t, objects.Record{Name: "C", ID: 2}, got[2])
	assert.NotEmpty(t, f.plugin.JobID())
	assert.Equal(t, 3.0, f.metrics.ObjectsKnown.Get(nil))
}

func TestPrintWithCancelledObject(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	require.NoError(t, f.plugin.Cancel(context.Background(), operator, "B"))

	got := f.print(t)

	assert.Equal(t, []string{"G28", "G1 X1", "G1 X2", "G1 X4", "G1 X5"}, got)
	assert.Equal(t, "C", f.plugin.Active())
	assert.Equal(t, uint64(5), f.metrics.CommandsForwarded.Get(nil))
	assert.Equal(t, uint64(5), f.metrics.CommandsSuppressed.Get(nil))
	assert.Equal(t, uint64(1), f.metrics.ObjectsCancelled.Get(nil))

	rec, _ := f.plugin.Registry().LookupByName("B")
	assert.True(t, rec.Cancelled)
	assert.Equal(t, []string{"B"}, f.plugin.Cancelled())
}

func TestActiveObjectDisplay(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.sink.Reset()

	f.plugin.QueueCommand(filter.Command{Text: "#Object B"})

	v, ok := f.sink.Last("navBarActive")
	require.True(t, ok)
	assert.Equal(t, "B", v)
}

func TestActiveObjectDisplayHidden(t *testing.T) {
	f := newFixture(t, func(s *config.Settings) { s.ShowNav = false })
	f.start(t)
	f.sink.Reset()

	f.plugin.QueueCommand(filter.Command{Text: "#Object B"})
	f.plugin.Query()

	_, ok := f.sink.Last("navBarActive")
	assert.False(t, ok)
}

func TestPrintCancelledClearsObjects(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	jobID := f.plugin.JobID()
	require.NoError(t, f.plugin.Cancel(context.Background(), operator, "A"))

	require.NoError(t, f.plugin.OnEvent(context.Background(), Event{Type: PrintCancelled}))

	assert.Equal(t, []objects.Record{}, f.lastObjects(t))
	assert.Empty(t, f.plugin.Objects())
	v, _ := f.sink.Last("navBarActive")
	assert.Equal(t, "None", v)
	assert.Empty(t, f.plugin.JobID())

	job, err := f.history.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCancelled, job.Status)
	assert.Equal(t, []string{"A"}, job.Cancelled)
	assert.Equal(t, uint64(1), f.metrics.JobsTotal.Get(metrics.Labels{"status": "cancelled"}))
}

func TestNewPrintStartsFresh(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	f.plugin.QueueCommand(filter.Command{Text: "#Object A"})
	f.plugin.Skip()
	require.True(t, f.plugin.Skipping())

	require.NoError(t, f.plugin.OnEvent(context.Background(), Event{Type: PrintDone}))
	f.start(t)

	assert.False(t, f.plugin.Skipping())
	assert.Equal(t, "", f.plugin.Active())
	assert.Len(t, f.plugin.Objects(), 3)
}

func TestFileSelectedMissingFile(t *testing.T) {
	f := newFixture(t, nil)
	err := f.plugin.OnEvent(context.Background(), Event{Type: FileSelected, File: filepath.Join(t.TempDir(), "missing.gcode")})
	assert.True(t, errors.Is(err, errors.ErrIO))
	assert.Equal(t, []objects.Record{}, f.lastObjects(t))
	assert.Empty(t, f.plugin.JobID(), "file selection does not open a job")
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.start(t)
	f.plugin.QueueCommand(filter.Command{Text: "#Object A"})

	err := f.plugin.HandleCommand(ctx, auth.Anonymous, "cancel", map[string]any{"cancelled": "A"})
	assert.True(t, errors.Is(err, errors.ErrForbidden))
	rec, _ := f.plugin.Registry().LookupByName("A")
	assert.False(t, rec.Cancelled, "anonymous cancel leaves the record untouched")

	err = f.plugin.HandleCommand(ctx, operator, "cancel", map[string]any{})
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	err = f.plugin.HandleCommand(ctx, operator, "cancel", map[string]any{"cancelled": "Z"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = f.plugin.HandleCommand(ctx, operator, "explode", nil)
	assert.True(t, errors.Is(err, errors.ErrBadRequest))

	require.NoError(t, f.plugin.HandleCommand(ctx, operator, "cancel", map[string]any{"cancelled": "A"}))
	assert.True(t, f.plugin.Skipping())

	require.NoError(t, f.plugin.HandleCommand(ctx, auth.Anonymous, "skip", nil))
}

func TestQueryPushesOnlyKnownObjects(t *testing.T) {
	f := newFixture(t, nil)

	f.plugin.Query()
	_, ok := f.sink.Last("objects")
	assert.False(t, ok, "an empty registry is not re-pushed")
	v, ok := f.sink.Last("navBarActive")
	require.True(t, ok)
	assert.Equal(t, "", v)

	f.start(t)
	f.sink.Reset()
	f.plugin.Query()
	assert.Len(t, f.lastObjects(t), 3)
}

func TestSettingsView(t *testing.T) {
	f := newFixture(t, nil)
	view := f.plugin.SettingsView()
	assert.Equal(t, "#Object", view["reptag"])
	assert.Equal(t, 300.0, view["retractfr"])
	assert.Equal(t, false, view["pause"])
}
