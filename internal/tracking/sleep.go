package tracking

import "context"

// SleepWatcher reports system sleep transitions. The channel carries true
// when the system is about to sleep and false when it has resumed; it is
// closed when ctx is done.
type SleepWatcher interface {
	Watch(ctx context.Context) (<-chan bool, error)
}

// NewSleepWatcher returns the sleep watcher for the current platform.
func NewSleepWatcher() SleepWatcher {
	return newPlatformSleepWatcher()
}
