package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinko_recovery/internal/models"
)

// ErrNoSender is returned when a channel has no registered sender.
var ErrNoSender = errors.New("no sender registered for channel")

// Message is a rendered reminder.
type Message struct {
	Subject string
	Body    string
}

// SendResult is what a provider reports for an accepted message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers one message to one recipient. A non-nil error means the
// provider did not accept the message; it is not retried.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) (SendResult, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient string, msg Message) (SendResult, error)

func (f SenderFunc) Send(ctx context.Context, recipient string, msg Message) (SendResult, error) {
	return f(ctx, recipient, msg)
}

// Registry maps each channel to its sender
type Registry struct {
	mu      sync.RWMutex
	senders map[models.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.Channel]Sender)}
}

// Register adds a sender for a channel, replacing any previous one
func (r *Registry) Register(ch models.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Get retrieves the sender for a channel
func (r *Registry) Get(ch models.Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[ch]
	return s, ok
}

// Supports reports whether ch has a sender.
func (r *Registry) Supports(ch models.Channel) bool {
	_, ok := r.Get(ch)
	return ok
}

// Send routes msg to the sender registered for ch.
func (r *Registry) Send(ctx context.Context, ch models.Channel, recipient string, msg Message) (SendResult, error) {
	s, ok := r.Get(ch)
	if !ok {
		return SendResult{}, fmt.Errorf("%w: %s", ErrNoSender, ch)
	}
	return s.Send(ctx, recipient, msg)
}

// Validate fails when any of the given channels has no sender.
func (r *Registry) Validate(chs []models.Channel) error {
	for _, ch := range chs {
		if _, ok := r.Get(ch); !ok {
			return fmt.Errorf("%w: %s", ErrNoSender, ch)
		}
	}
	return nil
}
