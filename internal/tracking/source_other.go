//go:build !linux

package tracking

import (
	"context"
	"runtime"
)

// nullSource never reports a focused window.
type nullSource struct {
	*baseSource
}

func newPlatformSource(cfg SourceConfig) Source {
	return &nullSource{baseSource: newBaseSource(cfg)}
}

func (s *nullSource) Start(ctx context.Context) error { return ErrUnavailable }

func (s *nullSource) Stop() error {
	s.close()
	return nil
}

func (s *nullSource) ActiveWindow() *WindowInfo { return nil }

func (s *nullSource) Available() (bool, string) {
	return false, "focus tracking is not implemented on " + runtime.GOOS
}

var _ Source = (*nullSource)(nil)
