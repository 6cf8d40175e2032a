package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "netswitchd.pid")
	p := New(path)

	require.NoError(t, p.Create())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))

	running, pid, err := p.CheckRunning()
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, p.Remove())
}

func TestCreateRefusesLiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	p := New(path)
	p.alive = func(pid int) bool { return pid == 4242 }
	assert.ErrorIs(t, p.Create(), ErrRunning)
}

func TestCreateReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	p := New(path)
	p.alive = func(int) bool { return false }
	require.NoError(t, p.Create())

	running, pid, err := p.CheckRunning()
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, os.Getpid(), pid)
}

func TestRemoveKeepsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	p := New(path)
	assert.Error(t, p.Remove())
	require.NoError(t, p.ForceRemove())
	require.NoError(t, p.ForceRemove())
}

func TestGarbageIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netswitchd.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, _, err := New(path).CheckRunning()
	assert.Error(t, err)
}
