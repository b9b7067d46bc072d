package mapsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notification is a user-facing message about a load or sync outcome.
type Notification struct {
	ID      uuid.UUID
	Level   Level
	Source  string
	Message string
	Err     error
	Time    time.Time
}

func NewNotification(level Level, source, message string, err error) Notification {
	return Notification{
		ID:      uuid.New(),
		Level:   level,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Notification) {})

// Banner keeps the latest error notification until it is dismissed.
type Banner struct {
	mu      sync.Mutex
	current *Notification
	next    Notifier
}

// NewBanner returns a Banner that forwards every notification to next.
func NewBanner(next Notifier) *Banner {
	if next == nil {
		next = Discard
	}
	return &Banner{next: next}
}

func (b *Banner) Notify(n Notification) {
	if n.Level == LevelError {
		b.mu.Lock()
		b.current = &n
		b.mu.Unlock()
	}
	b.next.Notify(n)
}

// Current returns the error being displayed, if any.
func (b *Banner) Current() (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Notification{}, false
	}
	return *b.current, true
}

// Dismiss clears the banner if it still shows the notification with id.
func (b *Banner) Dismiss(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || b.current.ID != id {
		return false
	}
	b.current = nil
	return true
}

// Recorder collects notifications in arrival order.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Level == level {
			n++
		}
	}
	return n
}
