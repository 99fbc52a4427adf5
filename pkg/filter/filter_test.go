package filter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/errors"
	"cancelobject/pkg/gcode"
	"cancelobject/pkg/log"
	"cancelobject/pkg/objects"
)

var operator = auth.Caller{Subject: "operator"}

func newTag(t *testing.T) *gcode.Tag {
	t.Helper()
	tag, err := gcode.NewTag("#Object")
	require.NoError(t, err)
	return tag
}

func newRegistry(t *testing.T, names ...string) *objects.Registry {
	t.Helper()
	var sb strings.Builder
	for _, n := range names {
		sb.WriteString("#Object " + n + "\n")
	}
	r := objects.NewRegistry(log.Discard())
	_, err := r.Scan(context.Background(), strings.NewReader(sb.String()), newTag(t))
	require.NoError(t, err)
	return r
}

func newSession(t *testing.T, reg Objects, hooks Hooks) *Session {
	t.Helper()
	return NewSession(newTag(t), reg, hooks, log.Discard())
}

// run feeds lines through s and returns the forwarded ones.
func run(s *Session, lines ...string) []string {
	var out []string
	for _, l := range lines {
		if d := s.Queue(Command{Text: l}); d.Send {
			out = append(out, d.Text)
		}
	}
	return out
}

func TestCancelledObjectIsSuppressed(t *testing.T) {
	reg := newRegistry(t, "A", "B")
	require.NoError(t, reg.MarkCancelled("B"))
	s := newSession(t, reg, Hooks{})

	got := run(s, "#Object A", "G1 X1", "G1 X2", "#Object B", "G1 X3")

	assert.Equal(t, []string{"G1 X1", "G1 X2"}, got)
	assert.Equal(t, Skipping, s.State())
	assert.Equal(t, "A", s.Active())
}

func TestIdleForwardsEverything(t *testing.T) {
	s := newSession(t, newRegistry(t, "A"), Hooks{})
	assert.Equal(t, Idle, s.State())

	got := run(s, "G28", "M104 S200")
	assert.Equal(t, []string{"G28", "M104 S200"}, got)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, "", s.Active())
}

func TestResumesAtNextLiveObject(t *testing.T) {
	reg := newRegistry(t, "A", "B", "C")
	require.NoError(t, reg.MarkCancelled("B"))

	var resumed []string
	s := newSession(t, reg, Hooks{OnResume: func(name string) { resumed = append(resumed, name) }})

	got := run(s,
		"#Object A", "G1 X1",
		"#Object B", "G1 X2", "G1 X3",
		"#Object C", "G1 X4",
		"#Object B", "G1 X5",
		"#Object A", "G1 X6",
	)

	assert.Equal(t, []string{"G1 X1", "G1 X4", "G1 X6"}, got)
	assert.Equal(t, []string{"C", "A"}, resumed)
	assert.Equal(t, Forwarding, s.State())
}

func TestLeadByteLinesNeverForwarded(t *testing.T) {
	s := newSession(t, newRegistry(t, "A"), Hooks{})

	got := run(s, "#Object A", "# just a comment", "#Objective", "G1 X1")

	assert.Equal(t, []string{"G1 X1"}, got)
	assert.Equal(t, Forwarding, s.State(), "a non-matching marker does not change state")
}

func TestUnknownObjectStartsSkipping(t *testing.T) {
	s := newSession(t, newRegistry(t, "A"), Hooks{})

	got := run(s, "#Object A", "G1 X1", "#Object ghost", "G1 X2", "#Object A", "G1 X3")

	assert.Equal(t, []string{"G1 X1", "G1 X3"}, got)
}

func TestCancelActiveObjectSkipsImmediately(t *testing.T) {
	reg := newRegistry(t, "A", "B")
	s := newSession(t, reg, Hooks{})

	run(s, "#Object A", "G1 X1")
	require.NoError(t, s.Cancel(operator, "A"))
	assert.Equal(t, Skipping, s.State())

	got := run(s, "G1 X2", "#Object B", "G1 X3", "#Object A", "G1 X4")
	assert.Equal(t, []string{"G1 X3"}, got)
}

func TestCancelOtherObjectTakesEffectAtItsTag(t *testing.T) {
	reg := newRegistry(t, "A", "B")
	s := newSession(t, reg, Hooks{})

	run(s, "#Object A")
	require.NoError(t, s.Cancel(operator, "B"))
	assert.Equal(t, Forwarding, s.State())

	got := run(s, "G1 X1", "#Object B", "G1 X2")
	assert.Equal(t, []string{"G1 X1"}, got)
}

func TestAnonymousCancelForbidden(t *testing.T) {
	reg := newRegistry(t, "A")
	s := newSession(t, reg, Hooks{})
	run(s, "#Object A")

	err := s.Cancel(auth.Anonymous, "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))

	rec, _ := reg.LookupByName("A")
	assert.False(t, rec.Cancelled)
	assert.Equal(t, Forwarding, s.State())
}

func TestCancelUnknownObject(t *testing.T) {
	s := newSession(t, newRegistry(t, "A"), Hooks{})
	err := s.Cancel(operator, "Z")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestSkipWithoutCancelling(t *testing.T) {
	reg := newRegistry(t, "A", "B")
	s := newSession(t, reg, Hooks{})

	run(s, "#Object A")
	s.Skip()
	got := run(s, "G1 X1", "#Object B", "G1 X2", "#Object A", "G1 X3")

	assert.Equal(t, []string{"G1 X2", "G1 X3"}, got)
	rec, _ := reg.LookupByName("A")
	assert.False(t, rec.Cancelled)
}

func TestActivateHookAndRegistryFlag(t *testing.T) {
	reg := newRegistry(t, "A", "B")
	var activated []string
	var decisions int
	s := newSession(t, reg, Hooks{
		OnActivate: func(name string) { activated = append(activated, name) },
		OnDecision: func(Decision) { decisions++ },
	})

	run(s, "#Object A", "G1", "#Object B", "G1")

	assert.Equal(t, []string{"A", "B"}, activated)
	assert.Equal(t, 4, decisions)
	rec, _ := reg.LookupByName("B")
	assert.True(t, rec.Active)
	rec, _ = reg.LookupByName("A")
	assert.False(t, rec.Active)
}

type panickingObjects struct{}

func (panickingObjects) IsCancelled(string) (bool, bool) { panic("boom") }
func (panickingObjects) MarkCancelled(string) error      { return nil }
func (panickingObjects) SetActive(string)                {}

func TestQueueRecoversFromFaults(t *testing.T) {
	s := newSession(t, panickingObjects{}, Hooks{})

	assert.Equal(t, Suppress(), s.Queue(Command{Text: "#Object A"}))
	assert.Equal(t, Forward("G1 X1"), s.Queue(Command{Text: "G1 X1"}))

	s.Skip()
	assert.Equal(t, Suppress(), s.Queue(Command{Text: "#Object A"}))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "forwarding", Forwarding.String())
	assert.Equal(t, "skipping", Skipping.String())
}
