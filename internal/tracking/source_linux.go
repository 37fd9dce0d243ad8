//go:build linux

package tracking

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// commandRunner runs an external tool and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// exeResolver maps a process id to its executable path.
type exeResolver func(ctx context.Context, pid int32) (string, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func processExe(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.ExeWithContext(ctx)
}

// x11Source polls the X11 active window through xdotool, falling back to
// xprop, and resolves the owning process with gopsutil.
type x11Source struct {
	*baseSource

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	current *WindowInfo

	display string
	run     commandRunner
	exe     exeResolver
	lookup  func(string) (string, error)
	now     func() time.Time
	logger  *slog.Logger
}

func newPlatformSource(cfg SourceConfig) Source {
	return &x11Source{
		baseSource: newBaseSource(cfg),
		display:    detectDisplay(),
		run:        execCommand,
		exe:        processExe,
		lookup:     exec.LookPath,
		now:        time.Now,
		logger:     slog.Default().With("component", "tracking_source"),
	}
}

func detectDisplay() string {
	if os.Getenv("DISPLAY") != "" {
		// Also covers XWayland.
		return "x11"
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return "wayland"
	}
	return "unknown"
}

func (s *x11Source) Available() (bool, string) {
	switch s.display {
	case "x11":
		if _, err := s.lookup("xdotool"); err == nil {
			return true, "X11 focus tracking available (xdotool)"
		}
		if _, err := s.lookup("xprop"); err == nil {
			return true, "X11 focus tracking available (xprop)"
		}
		return false, "X11 detected but neither xdotool nor xprop is installed"
	case "wayland":
		return false, "Wayland without XWayland does not expose the focused window"
	default:
		return false, "no display server detected"
	}
}

func (s *x11Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	if ok, reason := s.Available(); !ok {
		return errors.Join(ErrUnavailable, errors.New(reason))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	go s.pollLoop(ctx)

	s.logger.Info("focus source started", "display", s.display, "sample_interval", s.config.SampleInterval)
	return nil
}

func (s *x11Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	s.close()
	s.logger.Info("focus source stopped")
	return nil
}

func (s *x11Source) ActiveWindow() *WindowInfo {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := s.sample(ctx)
	if err != nil {
		s.logger.Debug("sample active window", "error", err)
		return nil
	}
	return info
}

func (s *x11Source) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := s.sample(ctx)
			if err != nil || info == nil {
				continue
			}
			s.mu.Lock()
			s.current = info
			s.mu.Unlock()
			s.emit(*info)
		}
	}
}

// sample reads the focused window and resolves its executable. Windows
// whose executable cannot be resolved are reported with an empty AppPath.
func (s *x11Source) sample(ctx context.Context) (*WindowInfo, error) {
	info, err := s.sampleXdotool(ctx)
	if err != nil {
		if info, err = s.sampleXprop(ctx); err != nil {
			return nil, err
		}
	}
	info.Timestamp = s.now()

	if info.PID > 0 {
		if exe, err := s.exe(ctx, int32(info.PID)); err == nil {
			info.AppPath = exe
		} else {
			s.logger.Debug("resolve executable", "pid", info.PID, "error", err)
		}
	}
	return info, nil
}

func (s *x11Source) sampleXdotool(ctx context.Context) (*WindowInfo, error) {
	out, err := s.run(ctx, "xdotool", "getactivewindow")
	if err != nil {
		return nil, err
	}
	windowID := strings.TrimSpace(string(out))
	if windowID == "" {
		return nil, errors.New("xdotool: no active window")
	}

	info := &WindowInfo{}
	if out, err := s.run(ctx, "xdotool", "getwindowname", windowID); err == nil {
		info.Title = strings.TrimSpace(string(out))
	}
	if out, err := s.run(ctx, "xdotool", "getwindowpid", windowID); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(out))); err == nil {
			info.PID = pid
		}
	}
	return info, nil
}

func (s *x11Source) sampleXprop(ctx context.Context) (*WindowInfo, error) {
	out, err := s.run(ctx, "xprop", "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return nil, err
	}

	// _NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007
	fields := strings.Fields(string(out))
	if len(fields) < 5 {
		return nil, errors.New("xprop: unexpected _NET_ACTIVE_WINDOW output")
	}
	windowID := fields[len(fields)-1]
	if windowID == "0x0" {
		return nil, errors.New("xprop: no active window")
	}

	out, err = s.run(ctx, "xprop", "-id", windowID, "WM_NAME", "_NET_WM_PID")
	if err != nil {
		return nil, err
	}
	return parseXpropWindow(string(out)), nil
}

func parseXpropWindow(out string) *WindowInfo {
	info := &WindowInfo{}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "WM_NAME"):
			// WM_NAME(STRING) = "title"
			if idx := strings.Index(line, "= \""); idx != -1 {
				if end := strings.LastIndex(line, "\""); end > idx+3 {
					info.Title = line[idx+3 : end]
				}
			}
		case strings.HasPrefix(line, "_NET_WM_PID"):
			// _NET_WM_PID(CARDINAL) = 12345
			if idx := strings.Index(line, "= "); idx != -1 {
				if pid, err := strconv.Atoi(strings.TrimSpace(line[idx+2:])); err == nil {
					info.PID = pid
				}
			}
		}
	}
	return info
}

var _ Source = (*x11Source)(nil)
