//go:build linux

package tracking

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestParsePrepareForSleep(t *testing.T) {
	sleeping, ok := parsePrepareForSleep(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{true}})
	assert.True(t, ok)
	assert.True(t, sleeping)

	sleeping, ok = parsePrepareForSleep(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{false}})
	assert.True(t, ok)
	assert.False(t, sleeping)

	_, ok = parsePrepareForSleep(&dbus.Signal{Name: login1Manager + ".PrepareForShutdown", Body: []interface{}{true}})
	assert.False(t, ok)

	_, ok = parsePrepareForSleep(&dbus.Signal{Name: prepareForSleep, Body: []interface{}{"yes"}})
	assert.False(t, ok)

	_, ok = parsePrepareForSleep(nil)
	assert.False(t, ok)
}
