// Package notify carries user-facing operation outcomes from the engine to whatever
// surface displays them.
package notify

import (
	"context"
	"sync"

	"github.com/angelmondragon/fieldops-backend/pkg/logger"
)

// Notifier receives user-facing outcome messages.
type Notifier interface {
	Success(ctx context.Context, message string)
	Error(ctx context.Context, message string, err error)
}

// Nop discards every message.
type Nop struct{}

func (Nop) Success(context.Context, string)      {}
func (Nop) Error(context.Context, string, error) {}

// LogNotifier writes messages to the structured logger.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Success(ctx context.Context, message string) {
	if n == nil || n.logg == nil {
		return
	}
	n.logg.Info(n.logg.WithField(ctx, "notification", "success"), message)
}

func (n *LogNotifier) Error(ctx context.Context, message string, err error) {
	if n == nil || n.logg == nil {
		return
	}
	n.logg.Warn(n.logg.WithFields(ctx, map[string]any{"notification": "error", "error": errString(err)}), message)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Kind distinguishes recorded messages.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Message is one recorded notification.
type Message struct {
	Kind Kind
	Text string
	Err  error
}

// Recorder keeps every message in order. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Success(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: KindSuccess, Text: message})
}

func (r *Recorder) Error(_ context.Context, message string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Kind: KindError, Text: message, Err: err})
}

// Messages returns a copy of what was recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Last returns the most recent message and false when nothing was recorded.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// OrNop returns n, or a Nop notifier when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}
