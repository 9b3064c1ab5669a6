package listview

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLife is how long a notification stays visible
const DefaultLife = 3 * time.Second

// Severity of a notification
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// Notification is a transient, dismissible toast
type Notification struct {
	ID        string
	Severity  Severity
	Summary   string
	Detail    string
	Life      time.Duration
	CreatedAt time.Time
}

// Expired reports whether the notification's life has elapsed at now
func (n Notification) Expired(now time.Time) bool {
	return !now.Before(n.CreatedAt.Add(n.Life))
}

// Notifier holds notifications until they expire or are dismissed
type Notifier struct {
	mu    sync.Mutex
	now   func() time.Time
	items []Notification
}

// NewNotifier creates a notifier using now as its clock
func NewNotifier(now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{now: now}
}

// Push adds a notification with the default life
func (n *Notifier) Push(severity Severity, summary, detail string) Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	item := Notification{
		ID:        uuid.NewString(),
		Severity:  severity,
		Summary:   summary,
		Detail:    detail,
		Life:      DefaultLife,
		CreatedAt: n.now(),
	}
	n.items = append(n.items, item)
	return item
}

// Active returns unexpired notifications, oldest first, and drops expired ones
func (n *Notifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	kept := n.items[:0]
	for _, item := range n.items {
		if !item.Expired(now) {
			kept = append(kept, item)
		}
	}
	n.items = kept

	out := make([]Notification, len(kept))
	copy(out, kept)
	return out
}

// Dismiss removes a notification by id
func (n *Notifier) Dismiss(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, item := range n.items {
		if item.ID == id {
			n.items = append(n.items[:i], n.items[i+1:]...)
			return true
		}
	}
	return false
}
