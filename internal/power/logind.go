// Package power turns OS suspend and screen-lock notifications into session
// lock triggers. On Linux they come from systemd-logind over the system bus.
package power

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/illarion/privkeep/internal/session"
)

const (
	managerInterface = "org.freedesktop.login1.Manager"
	sessionInterface = "org.freedesktop.login1.Session"

	prepareForSleep = managerInterface + ".PrepareForSleep"
	sessionLock     = sessionInterface + ".Lock"
)

// LogindWatcher listens for logind sleep and lock signals
type LogindWatcher struct {
	log     zerolog.Logger
	connect func() (*dbus.Conn, error)
}

// NewLogindWatcher creates a watcher on the system bus
func NewLogindWatcher(log zerolog.Logger) *LogindWatcher {
	return &LogindWatcher{
		log:     log,
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() },
	}
}

// Start subscribes to logind and returns a channel of lock reasons. The
// channel is closed when ctx is done or the bus connection drops.
func (w *LogindWatcher) Start(ctx context.Context) (<-chan session.Reason, error) {
	conn, err := w.connect()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(managerInterface), dbus.WithMatchMember("PrepareForSleep")},
		{dbus.WithMatchInterface(sessionInterface), dbus.WithMatchMember("Lock")},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to subscribe to logind signals: %w", err)
		}
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	out := make(chan session.Reason, 1)
	go func() {
		defer close(out)
		defer conn.Close()
		defer conn.RemoveSignal(signals)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					w.log.Warn().Msg("system bus connection closed")
					return
				}
				reason, ok := ReasonFor(sig)
				if !ok {
					continue
				}
				w.log.Debug().Str("signal", sig.Name).Msg("lock trigger")
				select {
				case out <- reason:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// ReasonFor maps a logind signal to a lock reason. Resume (PrepareForSleep
// false) and unrelated signals map to nothing.
func ReasonFor(sig *dbus.Signal) (session.Reason, bool) {
	if sig == nil {
		return "", false
	}

	switch sig.Name {
	case prepareForSleep:
		if len(sig.Body) == 0 {
			return "", false
		}
		if sleeping, ok := sig.Body[0].(bool); ok && sleeping {
			return session.ReasonSuspend, true
		}
	case sessionLock:
		return session.ReasonScreenLock, true
	}
	return "", false
}
