package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLockExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "autopilot.lock")

	first := NewInstanceLock(path)
	ok, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, ok, "first lock must succeed")

	second := NewInstanceLock(path)
	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, ok, "second lock must be refused while held")

	require.NoError(t, first.Unlock())

	ok, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, ok, "lock is available again after release")
	require.NoError(t, second.Unlock())
}

func TestPIDRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "autopilot.pid")

	require.NoError(t, WritePID(path))

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePID(path))
	_, err = ReadPID(path)
	assert.Error(t, err, "pidfile gone after removal")

	// Removing an already-removed pidfile is not an error.
	assert.NoError(t, RemovePID(path))
}

func TestReadPIDMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autopilot.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0644))

	_, err := ReadPID(path)
	assert.Error(t, err)
}
