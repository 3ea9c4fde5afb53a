// Package settings holds session-lifetime user preferences for the dashboard.
// The store is an explicit dependency passed to consumers; there is no
// package-level state. Values live only for the process lifetime.
package settings

import "sync"

// Settings holds the user preferences read by every page.
type Settings struct {
	Threshold         float64
	DefaultK          int
	DefaultLiq        float64
	ExcludePemantauan bool
	AutoRefresh       bool
}

// Partial is a sparse update: nil fields are left untouched by Update.
type Partial struct {
	Threshold         *float64
	DefaultK          *int
	DefaultLiq        *float64
	ExcludePemantauan *bool
	AutoRefresh       *bool
}

// Defaults returns the settings applied at session start.
func Defaults() Settings {
	return Settings{
		Threshold:         0.75,
		DefaultK:          50,
		DefaultLiq:        0.5,
		ExcludePemantauan: true,
		AutoRefresh:       false,
	}
}

// Store is a process-wide settings container with change notification.
// It performs no validation: out-of-range values are accepted and must be
// clamped by input widgets before they get here.
type Store struct {
	mu       sync.RWMutex
	settings Settings

	notificationsEnabled bool

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Settings
	notifSubs map[int]chan bool
}

// NewStore creates a Store seeded with the given settings.
func NewStore(initial Settings) *Store {
	return &Store{
		settings:  initial,
		subs:      make(map[int]chan Settings),
		notifSubs: make(map[int]chan bool),
	}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update shallow-merges the non-nil fields of p into the current settings.
// The result is immediately visible to all readers and pushed to subscribers.
func (s *Store) Update(p Partial) {
	s.mu.Lock()
	if p.Threshold != nil {
		s.settings.Threshold = *p.Threshold
	}
	if p.DefaultK != nil {
		s.settings.DefaultK = *p.DefaultK
	}
	if p.DefaultLiq != nil {
		s.settings.DefaultLiq = *p.DefaultLiq
	}
	if p.ExcludePemantauan != nil {
		s.settings.ExcludePemantauan = *p.ExcludePemantauan
	}
	if p.AutoRefresh != nil {
		s.settings.AutoRefresh = *p.AutoRefresh
	}
	current := s.settings
	s.mu.Unlock()

	// Notify subscribers (non-blocking send).
	s.subsMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- current:
		default:
			// Slow subscriber, drop update.
		}
	}
	s.subsMu.Unlock()
}

// NotificationsEnabled reports whether local notifications are switched on.
func (s *Store) NotificationsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notificationsEnabled
}

// SetNotificationsEnabled toggles the notification flag and pushes the new
// value to notification subscribers. The dashboard reopens its alert stream
// on every change it observes here.
func (s *Store) SetNotificationsEnabled(enabled bool) {
	s.mu.Lock()
	s.notificationsEnabled = enabled
	s.mu.Unlock()

	s.subsMu.Lock()
	for _, ch := range s.notifSubs {
		select {
		case ch <- enabled:
		default:
		}
	}
	s.subsMu.Unlock()
}

// Subscribe creates a subscription channel receiving each settings update.
func (s *Store) Subscribe(bufSize int) (id int, ch <-chan Settings) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id = s.nextSubID
	s.nextSubID++
	c := make(chan Settings, bufSize)
	s.subs[id] = c
	return id, c
}

// SubscribeNotifications creates a subscription channel receiving each change
// of the notifications-enabled flag.
func (s *Store) SubscribeNotifications(bufSize int) (id int, ch <-chan bool) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id = s.nextSubID
	s.nextSubID++
	c := make(chan bool, bufSize)
	s.notifSubs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
	if ch, ok := s.notifSubs[id]; ok {
		close(ch)
		delete(s.notifSubs, id)
	}
}

// Float returns a *float64 for use in Partial literals.
func Float(v float64) *float64 { return &v }

// Int returns an *int for use in Partial literals.
func Int(v int) *int { return &v }

// Bool returns a *bool for use in Partial literals.
func Bool(v bool) *bool { return &v }
