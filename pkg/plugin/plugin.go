// Cancel-object plugin
//
// The plugin owns the per-print state: the object registry, the queue filter
// session and the job history entry. Hosts drive it through the upload
// preprocessing hook, the command-queue hook, lifecycle events and operator
// commands.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package plugin

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/config"
	"cancelobject/pkg/errors"
	"cancelobject/pkg/filter"
	"cancelobject/pkg/gcode"
	"cancelobject/pkg/history"
	"cancelobject/pkg/log"
	"cancelobject/pkg/metrics"
	"cancelobject/pkg/notify"
	"cancelobject/pkg/objects"
)

// Identifier names the plugin in notification messages and API routes.
const Identifier = "cancelobject"

// noActiveObject is shown once a print ends.
const noActiveObject = "None"

// EventType is a print lifecycle event.
type EventType string

const (
	FileSelected   EventType = "FILE_SELECTED"
	PrintStarted   EventType = "PRINT_STARTED"
	PrintDone      EventType = "PRINT_DONE"
	PrintFailed    EventType = "PRINT_FAILED"
	PrintCancelled EventType = "PRINT_CANCELLED"
)

// Event carries a lifecycle event. File is the path of the selected print
// file for FILE_SELECTED and PRINT_STARTED.
type Event struct {
	Type EventType
	File string
}

// Config wires a Plugin. Only Settings is required.
type Config struct {
	Settings config.Settings
	Sink     notify.Sink
	History  *history.Store
	Metrics  *metrics.CancelMetrics
	Logger   *log.Logger
}

// Plugin is the cancel-object host integration.
type Plugin struct {
	settings   config.Settings
	normalizer *gcode.Normalizer
	tag        *gcode.Tag
	registry   *objects.Registry
	sink       notify.Sink
	history    *history.Store
	metrics    *metrics.CancelMetrics
	log        *log.Logger

	mu      sync.Mutex
	session *filter.Session
	jobID   string
}

// New validates the settings and builds an idle plugin.
func New(cfg Config) (*Plugin, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	n, err := gcode.NewNormalizer(cfg.Settings.ObjectRegex, cfg.Settings.RepTag)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger(Identifier)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = notify.Discard
	}

	p := &Plugin{
		settings:   cfg.Settings,
		normalizer: n,
		tag:        n.Tag(),
		registry:   objects.NewRegistry(logger.WithPrefix("objects")),
		sink:       sink,
		history:    cfg.History,
		metrics:    cfg.Metrics,
		log:        logger,
	}
	p.session = p.newSession()
	return p, nil
}

// Settings returns the active settings.
func (p *Plugin) Settings() config.Settings {
	return p.settings
}

// SettingsView is the settings payload shown to operators.
func (p *Plugin) SettingsView() map[string]any {
	return map[string]any{
		"object_regex": p.settings.ObjectRegex,
		"reptag":       p.settings.RepTag,
		"shownav":      p.settings.ShowNav,
		"pause":        p.settings.Pause,
		"retract":      p.settings.Retract,
		"retractfr":    p.settings.RetractFR,
	}
}

// Tag returns the compiled canonical tag.
func (p *Plugin) Tag() *gcode.Tag {
	return p.tag
}

// Registry returns the object registry of the current print.
func (p *Plugin) Registry() *objects.Registry {
	return p.registry
}

// PreprocessFile is the upload hook: G-code content is normalized, other
// files pass through.
func (p *Plugin) PreprocessFile(name string, r io.Reader) io.Reader {
	return p.normalizer.ProcessFile(name, r)
}

// QueueCommand is the command-queue hook.
func (p *Plugin) QueueCommand(cmd filter.Command) filter.Decision {
	return p.currentSession().Queue(cmd)
}

// OnEvent handles a lifecycle event.
func (p *Plugin) OnEvent(ctx context.Context, ev Event) error {
	switch ev.Type {
	case FileSelected, PrintStarted:
		return p.load(ctx, ev)
	case PrintDone, PrintFailed, PrintCancelled:
		p.finish(ctx, ev.Type)
		return nil
	default:
		p.log.WithField("event", ev.Type).Debug("ignoring event")
		return nil
	}
}

// load resets the print state, scans the selected file and pushes the new
// object list.
func (p *Plugin) load(ctx context.Context, ev Event) error {
	p.reset()

	if ev.Type == PrintStarted && p.history != nil {
		job, err := p.history.StartJob(ctx, filepath.Base(ev.File))
		if err != nil {
			p.log.WithError(err).Warn("failed to record job start")
		} else {
			p.mu.Lock()
			p.jobID = job.JobID
			p.mu.Unlock()
		}
	}

	var done func()
	if p.metrics != nil {
		done = p.metrics.ScanDuration.Timer(nil)
	}
	sum, err := p.registry.ScanFile(ctx, ev.File, p.tag)
	if done != nil {
		done()
		p.metrics.ScanLines.Add(nil, uint64(sum.Lines))
		p.metrics.ScanFailures.Add(nil, uint64(sum.Failed))
		p.metrics.ObjectsKnown.Set(nil, float64(p.registry.Len()))
	}
	p.pushObjects()
	if err != nil {
		p.log.WithError(err).WithField("file", ev.File).Error("object scan failed")
		return err
	}
	p.log.WithFields(log.Fields{"event": ev.Type, "file": ev.File, "objects": sum.Added}).Info("objects loaded")
	return nil
}

// finish closes the history entry and clears the print state.
func (p *Plugin) finish(ctx context.Context, typ EventType) {
	status := history.StatusCompleted
	switch typ {
	case PrintFailed:
		status = history.StatusError
	case PrintCancelled:
		status = history.StatusCancelled
	}

	p.mu.Lock()
	jobID := p.jobID
	p.jobID = ""
	p.mu.Unlock()

	if jobID != "" && p.history != nil {
		if err := p.history.FinishJob(ctx, jobID, status); err != nil {
			p.log.WithError(err).WithField("job", jobID).Warn("failed to record job end")
		}
	}
	if p.metrics != nil {
		p.metrics.JobsTotal.Inc(metrics.Labels{"status": status})
		p.metrics.ObjectsKnown.Set(nil, 0)
		p.metrics.Skipping.Set(nil, 0)
	}

	p.reset()
	p.pushObjects()
	p.sink.SendPluginMessage(Identifier, map[string]any{"navBarActive": noActiveObject})
	p.log.WithField("event", typ).Info("print ended, objects cleared")
}

// reset empties the registry and starts a fresh filter session.
func (p *Plugin) reset() {
	p.registry.Reset()
	s := p.newSession()
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

func (p *Plugin) newSession() *filter.Session {
	hooks := filter.Hooks{
		OnActivate: p.pushDisplay,
		OnResume: func(name string) {
			p.log.WithField("object", name).Debug("resuming at object")
		},
	}
	if p.metrics != nil {
		hooks.OnDecision = p.recordDecision
	}
	return filter.NewSession(p.tag, p.registry, hooks, p.log.WithPrefix("filter"))
}

func (p *Plugin) currentSession() *filter.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *Plugin) recordDecision(d filter.Decision) {
	if d.Send {
		p.metrics.CommandsForwarded.Inc(nil)
	} else {
		p.metrics.CommandsSuppressed.Inc(nil)
	}
	p.metrics.Skipping.SetBool(nil, p.currentSession().Skipping())
}

// Skip stops forwarding the current object without cancelling it.
func (p *Plugin) Skip() {
	p.currentSession().Skip()
	if p.metrics != nil {
		p.metrics.Skipping.Set(nil, 1)
	}
}

// Cancel marks name cancelled on behalf of caller.
func (p *Plugin) Cancel(ctx context.Context, caller auth.Caller, name string) error {
	if err := p.currentSession().Cancel(caller, name); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.ObjectsCancelled.Inc(nil)
		p.metrics.Skipping.SetBool(nil, p.currentSession().Skipping())
	}

	p.mu.Lock()
	jobID := p.jobID
	p.mu.Unlock()
	if jobID != "" && p.history != nil {
		if err := p.history.NoteCancelled(ctx, jobID, name); err != nil {
			p.log.WithError(err).WithField("object", name).Warn("failed to record cancellation")
		}
	}

	p.pushObjects()
	return nil
}

// HandleCommand dispatches an operator API command.
func (p *Plugin) HandleCommand(ctx context.Context, caller auth.Caller, command string, data map[string]any) error {
	switch command {
	case "skip":
		p.log.WithField("by", caller.Subject).Info("skip current object called")
		p.Skip()
		return nil
	case "cancel":
		name, ok := data["cancelled"].(string)
		if !ok {
			return errors.BadRequestError("cancel requires a 'cancelled' object name")
		}
		return p.Cancel(ctx, caller, name)
	default:
		return errors.BadRequestError("unknown command '" + command + "'")
	}
}

// Query re-pushes the object list (when non-empty) and the active object
// display.
func (p *Plugin) Query() {
	if p.registry.Len() > 0 {
		p.pushObjects()
	}
	p.pushDisplay(p.currentSession().Active())
}

// Objects returns the current object snapshot.
func (p *Plugin) Objects() []objects.Record {
	return p.registry.Snapshot()
}

// Cancelled returns the cancelled object names in discovery order.
func (p *Plugin) Cancelled() []string {
	return p.registry.Cancelled()
}

// Active returns the name of the object being forwarded, or "".
func (p *Plugin) Active() string {
	return p.currentSession().Active()
}

// Skipping reports whether commands are being suppressed.
func (p *Plugin) Skipping() bool {
	return p.currentSession().Skipping()
}

// JobID returns the history id of the running print, or "".
func (p *Plugin) JobID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID
}

func (p *Plugin) pushObjects() {
	p.sink.SendPluginMessage(Identifier, map[string]any{"objects": p.registry.Snapshot()})
}

func (p *Plugin) pushDisplay(name string) {
	if !p.settings.ShowNav {
		return
	}
	p.sink.SendPluginMessage(Identifier, map[string]any{"navBarActive": name})
}
