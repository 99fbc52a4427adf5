package printer

import (
	"context"
	stderrors "errors"
	"io"
	"sync"

	"cancelobject/pkg/errors"
	"cancelobject/pkg/log"
	"cancelobject/pkg/plugin"
)

// Host receives queued commands and lifecycle events.
type Host interface {
	Queue
	OnEvent(ctx context.Context, ev plugin.Event) error
}

// Files resolves stored file names to paths.
type Files interface {
	Path(name string) (string, error)
}

// Job states.
const (
	StateIdle     = "idle"
	StateReady    = "ready"
	StatePrinting = "printing"
)

// Status is a point-in-time view of the controller.
type Status struct {
	State string `json:"state"`
	File  string `json:"file"`
	Last  string `json:"last_result,omitempty"`
	Stats Stats  `json:"stats"`
}

// Controller selects, starts and cancels print jobs. One job runs at a time;
// the selected file stays selected after a job ends.
type Controller struct {
	host  Host
	files Files
	out   io.Writer
	log   *log.Logger

	mu       sync.Mutex
	state    string
	file     string
	path     string
	last     string
	stats    Stats
	cancelFn context.CancelFunc
	done     chan struct{}
}

// NewController creates an idle controller.
func NewController(host Host, files Files, out io.Writer, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.GetLogger("printer")
	}
	return &Controller{host: host, files: files, out: out, log: logger, state: StateIdle}
}

// Select makes name the next file to print and announces it.
func (c *Controller) Select(ctx context.Context, name string) error {
	path, err := c.files.Path(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == StatePrinting {
		c.mu.Unlock()
		return errors.BadRequestError("a print is running")
	}
	c.state, c.file, c.path = StateReady, name, path
	c.mu.Unlock()

	return c.host.OnEvent(ctx, plugin.Event{Type: plugin.FileSelected, File: path})
}

// Start begins printing the selected file. The object scan completes before
// Start returns; streaming continues in the background.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return errors.BadRequestError("no file selected")
	case StatePrinting:
		c.mu.Unlock()
		return errors.BadRequestError("a print is running")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.state = StatePrinting
	c.stats = Stats{}
	c.last = ""
	c.cancelFn = cancel
	c.done = make(chan struct{})
	path, name, done := c.path, c.file, c.done
	c.mu.Unlock()

	if err := c.host.OnEvent(ctx, plugin.Event{Type: plugin.PrintStarted, File: path}); err != nil {
		cancel()
		c.finish(runCtx, plugin.PrintFailed, Stats{})
		close(done)
		return err
	}

	go func() {
		defer close(done)
		c.log.WithField("file", name).Info("print started")
		stats, err := NewRunner(c.host, c.out, c.log).RunFile(runCtx, path)

		ev := plugin.PrintDone
		switch {
		case stderrors.Is(err, context.Canceled):
			ev = plugin.PrintCancelled
		case err != nil:
			ev = plugin.PrintFailed
			c.log.WithError(err).WithField("file", name).Error("print failed")
		}
		c.finish(runCtx, ev, stats)
	}()
	return nil
}

func (c *Controller) finish(ctx context.Context, ev plugin.EventType, stats Stats) {
	if err := c.host.OnEvent(context.WithoutCancel(ctx), plugin.Event{Type: ev}); err != nil {
		c.log.WithError(err).WithField("event", ev).Warn("lifecycle event failed")
	}
	c.mu.Lock()
	c.state = StateReady
	c.stats = stats
	c.last = string(ev)
	c.cancelFn = nil
	c.mu.Unlock()
	c.log.WithFields(log.Fields{
		"event":      ev,
		"lines":      stats.Lines,
		"sent":       stats.Sent,
		"suppressed": stats.Suppressed,
	}).Info("print finished")
}

// Cancel aborts the running print.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePrinting || c.cancelFn == nil {
		return errors.BadRequestError("no print is running")
	}
	c.cancelFn()
	return nil
}

// Wait blocks until the current print (if any) has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, File: c.file, Last: c.last, Stats: c.stats}
}
