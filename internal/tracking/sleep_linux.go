//go:build linux

package tracking

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	login1Path      = dbus.ObjectPath("/org/freedesktop/login1")
	login1Manager   = "org.freedesktop.login1.Manager"
	prepareForSleep = login1Manager + ".PrepareForSleep"
)

// logindSleepWatcher listens for systemd-logind's PrepareForSleep signal on
// the system bus.
type logindSleepWatcher struct {
	connect func() (*dbus.Conn, error)
}

func newPlatformSleepWatcher() SleepWatcher {
	return &logindSleepWatcher{connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() }}
}

func (w *logindSleepWatcher) Watch(ctx context.Context) (<-chan bool, error) {
	conn, err := w.connect()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(login1Path),
		dbus.WithMatchInterface(login1Manager),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to PrepareForSleep: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	out := make(chan bool, 1)
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
					return
				}
				sleeping, ok := parsePrepareForSleep(sig)
				if !ok {
					continue
				}
				select {
				case out <- sleeping:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func parsePrepareForSleep(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) != 1 {
		return false, false
	}
	v, ok := sig.Body[0].(bool)
	return v, ok
}
