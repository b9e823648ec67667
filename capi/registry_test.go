package capi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socib/go-sftp"
)

func TestRegistryHandles(t *testing.T) {
	r := NewRegistry()

	s1 := &sftp.Session{}
	s2 := &sftp.Session{}

	h1 := r.Adopt(s1)
	h2 := r.Adopt(s2)

	assert.NotEqual(t, InvalidHandle, h1)
	assert.NotEqual(t, InvalidHandle, h2)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 2, r.Len())

	got, st, _ := r.session(h1)
	require.Equal(t, StatusOK, st)
	assert.Same(t, s1, got)

	got, st, _ = r.session(h2)
	require.Equal(t, StatusOK, st)
	assert.Same(t, s2, got)
}

func TestRegistryRetire(t *testing.T) {
	r := NewRegistry()

	s1 := &sftp.Session{}
	h1 := r.Adopt(s1)

	gone, ok := r.retire(h1)
	require.True(t, ok)
	assert.Same(t, s1, gone)
	assert.Equal(t, 0, r.Len())

	_, st, msg := r.session(h1)
	assert.Equal(t, StatusStateError, st)
	assert.NotEmpty(t, msg)

	_, ok = r.retire(h1)
	assert.False(t, ok, "retiring a handle twice must fail")

	// The freed slot is reused under a fresh generation,
	// so the old handle stays dead.
	s2 := &sftp.Session{}
	h2 := r.Adopt(s2)

	assert.NotEqual(t, h1, h2)
	assert.Equal(t, uint32(h1), uint32(h2), "the slot index should be reused")

	_, st, _ = r.session(h1)
	assert.Equal(t, StatusStateError, st)

	got, st, _ := r.session(h2)
	require.Equal(t, StatusOK, st)
	assert.Same(t, s2, got)
}

func TestRegistryInvalidHandles(t *testing.T) {
	r := NewRegistry()
	r.Adopt(&sftp.Session{})

	for _, h := range []Handle{
		InvalidHandle,
		Handle(1),         // index past the table
		Handle(99 << 32),  // wrong generation
		mkHandle(5, 1),    // index past the table, plausible generation
	} {
		_, st, _ := r.session(h)
		assert.Equal(t, StatusStateError, st, "handle %#x", uint64(h))
	}
}

func TestRegistryOpsOnStaleHandle(t *testing.T) {
	r := NewRegistry()

	h := r.Adopt(&sftp.Session{})

	_, ok := r.retire(h)
	require.True(t, ok)

	st, _ := r.CloseSession(h)
	assert.Equal(t, StatusStateError, st)

	st, _ = r.Disconnect(h)
	assert.Equal(t, StatusStateError, st)

	wd, st, _ := r.GetWorkingDirectory(h)
	assert.Equal(t, StatusStateError, st)
	assert.Empty(t, wd)

	st, _ = r.ChangeDirectory(h, "anywhere")
	assert.Equal(t, StatusStateError, st)

	_, st, _ = r.StatEntry(h, "x")
	assert.Equal(t, StatusStateError, st)

	_, st, _ = r.ListDirectory(h, ".")
	assert.Equal(t, StatusStateError, st)

	st, _ = r.Download(h, "remote", "local")
	assert.Equal(t, StatusStateError, st)
}
