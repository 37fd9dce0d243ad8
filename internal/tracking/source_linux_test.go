//go:build linux

package tracking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestX11Source(outputs map[string]string, exes map[int32]string) *x11Source {
	return &x11Source{
		baseSource: newBaseSource(DefaultSourceConfig()),
		display:    "x11",
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			key := strings.Join(append([]string{name}, args...), " ")
			out, ok := outputs[key]
			if !ok {
				return nil, errors.New("exit status 1")
			}
			return []byte(out), nil
		},
		exe: func(ctx context.Context, pid int32) (string, error) {
			if p, ok := exes[pid]; ok {
				return p, nil
			}
			return "", errors.New("no such process")
		},
		lookup: func(string) (string, error) { return "", errors.New("not found") },
		now:    func() time.Time { return time.UnixMilli(42_000) },
		logger: slog.Default(),
	}
}

func TestX11SourceXdotool(t *testing.T) {
	s := newTestX11Source(map[string]string{
		"xdotool getactivewindow":        "60817415\n",
		"xdotool getwindowname 60817415": "main.go - focusd - Code\n",
		"xdotool getwindowpid 60817415":  "4242\n",
	}, map[int32]string{4242: "/usr/share/code/code"})

	info := s.ActiveWindow()
	require.NotNil(t, info)
	assert.Equal(t, WindowInfo{
		AppPath:   "/usr/share/code/code",
		Title:     "main.go - focusd - Code",
		PID:       4242,
		Timestamp: time.UnixMilli(42_000),
	}, *info)
}

func TestX11SourceFallsBackToXprop(t *testing.T) {
	s := newTestX11Source(map[string]string{
		"xprop -root _NET_ACTIVE_WINDOW":          "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007\n",
		"xprop -id 0x3a00007 WM_NAME _NET_WM_PID": "WM_NAME(STRING) = \"Terminal\"\n_NET_WM_PID(CARDINAL) = 77\n",
	}, map[int32]string{77: "/usr/bin/xterm"})

	info := s.ActiveWindow()
	require.NotNil(t, info)
	assert.Equal(t, "/usr/bin/xterm", info.AppPath)
	assert.Equal(t, "Terminal", info.Title)
	assert.Equal(t, 77, info.PID)
}

func TestX11SourceNoWindow(t *testing.T) {
	s := newTestX11Source(map[string]string{
		"xprop -root _NET_ACTIVE_WINDOW": "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x0\n",
	}, nil)
	assert.Nil(t, s.ActiveWindow())
}

func TestX11SourceUnresolvedExecutable(t *testing.T) {
	s := newTestX11Source(map[string]string{
		"xdotool getactivewindow": "5\n",
		"xdotool getwindowpid 5":  "9\n",
	}, nil)

	info := s.ActiveWindow()
	require.NotNil(t, info)
	assert.Empty(t, info.AppPath)
	assert.Equal(t, 9, info.PID)
}

func TestX11SourceAvailability(t *testing.T) {
	s := newTestX11Source(nil, nil)
	ok, _ := s.Available()
	assert.False(t, ok)
	assert.ErrorIs(t, s.Start(context.Background()), ErrUnavailable)

	s.lookup = func(name string) (string, error) {
		if name == "xprop" {
			return "/usr/bin/xprop", nil
		}
		return "", errors.New("not found")
	}
	ok, reason := s.Available()
	assert.True(t, ok)
	assert.Contains(t, reason, "xprop")

	s.display = "wayland"
	ok, _ = s.Available()
	assert.False(t, ok)
}

func TestParseXpropWindow(t *testing.T) {
	info := parseXpropWindow("WM_NAME(UTF8_STRING) = \"a \\\"quoted\\\" title\"\n_NET_WM_PID(CARDINAL) = 12\n")
	assert.Equal(t, 12, info.PID)
	assert.Equal(t, `a \"quoted\" title`, info.Title)

	info = parseXpropWindow("WM_NAME:  not found.\n")
	assert.Zero(t, info.PID)
	assert.Empty(t, info.Title)
}
