package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := PathIn(filepath.Join(t.TempDir(), "state"))
	l, err := Acquire(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, err := Holder(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, path, l.Path())
}

func TestSecondAcquireFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), Filename)
	first, err := Acquire(path)
	require.NoError(t, err)

	held, err := Held(path)
	require.NoError(t, err)
	assert.True(t, held)

	_, err = Acquire(path)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	held, err = Held(path)
	require.NoError(t, err)
	assert.False(t, held)

	second, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestHeldMissingFile(t *testing.T) {
	held, err := Held(filepath.Join(t.TempDir(), Filename))
	require.NoError(t, err)
	assert.False(t, held)

	_, err = Acquire("")
	assert.Error(t, err)
}
