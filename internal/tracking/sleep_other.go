//go:build !linux

package tracking

import "context"

type noSleepWatcher struct{}

func newPlatformSleepWatcher() SleepWatcher { return noSleepWatcher{} }

func (noSleepWatcher) Watch(ctx context.Context) (<-chan bool, error) {
	return nil, ErrUnavailable
}
