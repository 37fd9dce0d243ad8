//go:build unix

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecondWriterIsLockedOut(t *testing.T) {
	e, dir := openTestEngine(t, clockAt(0))

	_, err := Open(dir, clockAt(0))
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, e.Close())

	e2, err := Open(dir, clockAt(0))
	require.NoError(t, err)
	require.NoError(t, e2.Close())
}
