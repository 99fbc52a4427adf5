// Package notify defines where plugin snapshots go. The websocket hub in
// pkg/server is the production sink; Recorder collects messages in tests and
// CLI dry runs.
package notify

import "sync"

// Sink receives plugin messages. Implementations must not block.
type Sink interface {
	SendPluginMessage(identifier string, data map[string]any)
}

// Message is one recorded plugin message.
type Message struct {
	Plugin string
	Data   map[string]any
}

// Discard drops every message.
var Discard Sink = discard{}

type discard struct{}

func (discard) SendPluginMessage(string, map[string]any) {}

// Recorder keeps every message it receives.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// SendPluginMessage implements Sink.
func (r *Recorder) SendPluginMessage(identifier string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Plugin: identifier, Data: data})
}

// Messages returns a copy of everything received so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message carrying key.
func (r *Recorder) Last(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if v, ok := r.messages[i].Data[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// Reset forgets recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
