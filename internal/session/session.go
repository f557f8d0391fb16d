package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAutoLockMinutes is the inactivity timeout of a fresh session
const DefaultAutoLockMinutes = 15

var ErrInvalidTimeout = errors.New("auto-lock timeout must not be negative")

// State of the session
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Reason tags what caused a transition
type Reason string

const (
	ReasonUnlock     Reason = "unlock"
	ReasonManual     Reason = "manual"
	ReasonTimeout    Reason = "timeout"
	ReasonSuspend    Reason = "suspend"
	ReasonScreenLock Reason = "screen-lock"
)

// Event is delivered to subscribers on every real transition
type Event struct {
	State  State
	Reason Reason
	At     time.Time
}

// Snapshot is a point-in-time view of the session
type Snapshot struct {
	Active          bool      `json:"active"`
	AutoLockMinutes int       `json:"autoLockMinutes"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
}

// Manager is the lock state machine with an inactivity timer.
//
// Transitions and their event delivery are serialized, so subscribers see
// events in transition order. Subscribers run synchronously and must not
// call Start or Lock.
type Manager struct {
	notifyMu sync.Mutex

	mu              sync.Mutex
	state           State
	autoLockMinutes int
	autoLock        time.Duration
	timer           *time.Timer
	gen             uint64
	lastActivity    time.Time
	subs            map[int]func(Event)
	nextSub         int

	now func() time.Time
	log zerolog.Logger
}

// New creates a locked session with the default timeout
func New(log zerolog.Logger) *Manager {
	return &Manager{
		state:           Locked,
		autoLockMinutes: DefaultAutoLockMinutes,
		autoLock:        DefaultAutoLockMinutes * time.Minute,
		subs:            make(map[int]func(Event)),
		now:             time.Now,
		log:             log,
	}
}

// Start unlocks the session and arms the inactivity timer. On an unlocked
// session it only re-arms the timer.
func (m *Manager) Start() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	now := m.now()
	m.lastActivity = now
	if m.state == Unlocked {
		m.rearmLocked()
		m.mu.Unlock()
		return
	}
	m.state = Unlocked
	m.rearmLocked()
	subs := m.subscribersLocked()
	m.mu.Unlock()

	m.log.Debug().Msg("session unlocked")
	deliver(subs, Event{State: Unlocked, Reason: ReasonUnlock, At: now})
}

// Lock locks the session. No-op when already locked.
func (m *Manager) Lock() {
	m.LockWithReason(ReasonManual)
}

// LockWithReason locks the session, tagging the event with reason
func (m *Manager) LockWithReason(reason Reason) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.state == Locked {
		m.mu.Unlock()
		return
	}
	m.lockLocked()
	subs := m.subscribersLocked()
	at := m.now()
	m.mu.Unlock()

	m.log.Info().Str("reason", string(reason)).Msg("session locked")
	deliver(subs, Event{State: Locked, Reason: reason, At: at})
}

func (m *Manager) expire(gen uint64) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	// a stale timer lost a race with a re-arm or a lock
	if gen != m.gen || m.state == Locked {
		m.mu.Unlock()
		return
	}
	m.lockLocked()
	subs := m.subscribersLocked()
	at := m.now()
	m.mu.Unlock()

	m.log.Info().Str("reason", string(ReasonTimeout)).Msg("session locked")
	deliver(subs, Event{State: Locked, Reason: ReasonTimeout, At: at})
}

// ResetInactivity records activity and restarts the timer while unlocked
func (m *Manager) ResetInactivity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Unlocked {
		return
	}
	m.lastActivity = m.now()
	m.rearmLocked()
}

// SetAutoLockTimeout sets the inactivity timeout in minutes; 0 disables it
func (m *Manager) SetAutoLockTimeout(minutes int) error {
	if minutes < 0 {
		return ErrInvalidTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoLockMinutes = minutes
	m.autoLock = time.Duration(minutes) * time.Minute
	m.rearmLocked()
	return nil
}

// setAutoLockDuration allows sub-minute timeouts in tests
func (m *Manager) setAutoLockDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoLock = d
	m.rearmLocked()
}

// Watch locks the session for every reason received until ctx is done or
// triggers is closed.
func (m *Manager) Watch(ctx context.Context, triggers <-chan Reason) {
	for {
		select {
		case <-ctx.Done():
			return
		case reason, ok := <-triggers:
			if !ok {
				return
			}
			m.LockWithReason(reason)
		}
	}
}

// Subscribe registers fn for transition events and returns its unsubscribe func
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// IsActive reports whether the session is unlocked
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Unlocked
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the current session view
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Active:          m.state == Unlocked,
		AutoLockMinutes: m.autoLockMinutes,
		LastActivityAt:  m.lastActivity,
	}
}

// Close stops the timer without changing state
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
}

func (m *Manager) lockLocked() {
	m.state = Locked
	m.stopTimerLocked()
}

func (m *Manager) stopTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) rearmLocked() {
	m.stopTimerLocked()
	if m.state != Unlocked || m.autoLock <= 0 {
		return
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.autoLock, func() { m.expire(gen) })
}

func (m *Manager) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	// registration order
	slices.Sort(ids)

	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, m.subs[id])
	}
	return subs
}

func deliver(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
