// Command-queue filter
//
// A Session sits between the print pipeline and the machine. It watches for
// canonical object tags in the command stream and suppresses commands that
// belong to cancelled objects. One Session serves exactly one print.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package filter

import (
	"sync"

	"cancelobject/pkg/auth"
	"cancelobject/pkg/errors"
	"cancelobject/pkg/gcode"
	"cancelobject/pkg/log"
)

// Command is one line about to be queued for the machine.
type Command struct {
	Text  string
	Phase string
	Type  string
	GCode string
	Tags  []string
}

// Decision is the outcome for one command slot. Send false means nothing is
// sent for the slot.
type Decision struct {
	Text string
	Send bool
}

// Forward passes text through unchanged.
func Forward(text string) Decision {
	return Decision{Text: text, Send: true}
}

// Suppress sends nothing.
func Suppress() Decision {
	return Decision{}
}

// State is the filter state.
type State int

const (
	// Idle forwards commands; no tag has been seen yet.
	Idle State = iota
	// Forwarding forwards commands of the active object.
	Forwarding
	// Skipping suppresses every command until the next tag of a
	// non-cancelled object.
	Skipping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Forwarding:
		return "forwarding"
	case Skipping:
		return "skipping"
	default:
		return "unknown"
	}
}

// Objects is the registry view the filter needs.
type Objects interface {
	IsCancelled(name string) (cancelled, found bool)
	MarkCancelled(name string) error
	SetActive(name string)
}

// Hooks are optional callbacks. They run outside the session lock and must
// not block.
type Hooks struct {
	// OnActivate runs when a tag makes name the active object.
	OnActivate func(name string)
	// OnResume runs when a tag ends a skipping run.
	OnResume func(name string)
	// OnDecision runs once per queued command.
	OnDecision func(d Decision)
}

// Session is the per-print filter state machine.
type Session struct {
	tag     *gcode.Tag
	objects Objects
	hooks   Hooks
	log     *log.Logger

	mu       sync.Mutex
	active   string
	skipping bool
}

// NewSession creates a session in the Idle state.
func NewSession(tag *gcode.Tag, objects Objects, hooks Hooks, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.GetLogger("filter")
	}
	return &Session{
		tag:     tag,
		objects: objects,
		hooks:   hooks,
		log:     logger,
	}
}

// Queue decides what to send for cmd. It never panics; on an internal fault
// the command is forwarded unless the session is skipping.
func (s *Session) Queue(cmd Command) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithError(errors.RecoverPanic(r)).WithField("command", cmd.Text).Error("queue filter fault")
			d = s.fallback(cmd)
		}
	}()

	d, activated, resumed := s.step(cmd)
	if activated != "" {
		s.objects.SetActive(activated)
		if resumed && s.hooks.OnResume != nil {
			s.hooks.OnResume(activated)
		}
		if s.hooks.OnActivate != nil {
			s.hooks.OnActivate(activated)
		}
	}
	if s.hooks.OnDecision != nil {
		s.hooks.OnDecision(d)
	}
	return d
}

func (s *Session) step(cmd Command) (d Decision, activated string, resumed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Lines carrying the tag's lead byte are markers, never machine input,
	// whether or not they parse as a tag.
	marker := s.tag.HasLead(cmd.Text)
	if marker {
		if name, ok := s.tag.Match(cmd.Text); ok {
			activated, resumed = s.enter(name)
		}
	}

	if s.skipping || marker {
		return Suppress(), activated, resumed
	}
	return Forward(cmd.Text), activated, resumed
}

// enter handles a tag for name. Caller holds s.mu.
func (s *Session) enter(name string) (activated string, resumed bool) {
	cancelled, found := s.objects.IsCancelled(name)
	switch {
	case !found:
		s.log.WithError(errors.UnknownObjectError(name)).Error("tag for object missing from registry, skipping")
		s.skipping = true
		return "", false
	case cancelled:
		if !s.skipping {
			s.log.WithField("object", name).Info("hit a cancelled object")
		}
		s.skipping = true
		return "", false
	}

	if s.skipping {
		s.skipping = false
		resumed = true
	}
	s.active = name
	return name, resumed
}

func (s *Session) fallback(cmd Command) Decision {
	s.mu.Lock()
	skipping := s.skipping
	s.mu.Unlock()
	if skipping || s.tag.HasLead(cmd.Text) {
		return Suppress()
	}
	return Forward(cmd.Text)
}

// Cancel marks name cancelled on behalf of caller. Cancelling the active
// object starts skipping immediately.
func (s *Session) Cancel(caller auth.Caller, name string) error {
	if caller.IsAnonymous() {
		return errors.ForbiddenError("cancel objects")
	}
	if err := s.objects.MarkCancelled(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if name == s.active {
		s.skipping = true
	}
	s.log.WithFields(log.Fields{"object": name, "by": caller.Subject, "active": s.active}).Info("cancel requested")
	return nil
}

// Skip starts skipping the active object without cancelling it.
func (s *Session) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipping = true
	s.log.WithField("object", s.active).Info("skip current object")
}

// Active returns the active object name, or "" before the first tag.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Skipping reports whether commands are being suppressed.
func (s *Session) Skipping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipping
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.skipping:
		return Skipping
	case s.active == "":
		return Idle
	default:
		return Forwarding
	}
}
