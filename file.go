package sftp

import (
	"context"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/socib/go-sftp/internal/sshfx"
)

// handle is the client-side view of a server file handle.
//
// The atomic pointer lets close invalidate the handle without waiting on
// operations that may be paused indefinitely, while the closed channel
// releases any such operation still holding a copy of the handle value.
type handle struct {
	value  atomic.Pointer[string]
	closed chan struct{}
}

func (h *handle) init(handle string) {
	h.value.Store(&handle)
	h.closed = make(chan struct{})
}

func (h *handle) get() (handle string, cancel <-chan struct{}, err error) {
	p := h.value.Load()
	if p == nil {
		return "", nil, fs.ErrClosed
	}
	return *p, h.closed, nil
}

func (h *handle) close(s *Session) error {
	// Swapping out the handle value first guarantees that no new operation
	// can start against a closed handle, and that only one caller ever gets
	// as far as sending the close request.
	handle := h.value.Swap(nil)
	if handle == nil {
		return fs.ErrClosed
	}

	// This close happens before the send below, so an operation still
	// holding the old handle value observes the cancel no later than the
	// server forgetting the handle.
	close(h.closed)

	// Do not pass h.closed or a caller context into this send.
	// The SSH_FXP_CLOSE packet must go out even on cancelled codepaths.
	return s.sendPacket(context.Background(), nil, &sshfx.ClosePacket{
		Handle: *handle,
	})
}

// File represents an open remote file handle.
type File struct {
	s    *Session
	name string

	handle handle

	mu     sync.RWMutex
	offset int64 // current offset within remote file
}

// These aliases to the os package values are provided as a convenience to avoid needing two imports to use OpenFile.
const (
	// Exactly one of OpenFlagReadOnly, OpenFlagWriteOnly, OpenFlagReadWrite must be specified.
	OpenFlagReadOnly  = os.O_RDONLY
	OpenFlagWriteOnly = os.O_WRONLY
	OpenFlagReadWrite = os.O_RDWR
	// The remaining values may be or'ed in to control behavior.
	OpenFlagCreate    = os.O_CREATE
	OpenFlagTruncate  = os.O_TRUNC
	OpenFlagExclusive = os.O_EXCL
)

// toPortableFlags converts the flags passed to OpenFile into SFTP flags.
// Unsupported flags are ignored.
func toPortableFlags(f int) uint32 {
	var out uint32
	switch f & (OpenFlagReadOnly | OpenFlagWriteOnly | OpenFlagReadWrite) {
	case OpenFlagReadOnly:
		out |= sshfx.FlagRead
	case OpenFlagWriteOnly:
		out |= sshfx.FlagWrite
	case OpenFlagReadWrite:
		out |= sshfx.FlagRead | sshfx.FlagWrite
	}
	if f&OpenFlagCreate == OpenFlagCreate {
		out |= sshfx.FlagCreate
	}
	if f&OpenFlagTruncate == OpenFlagTruncate {
		out |= sshfx.FlagTruncate
	}
	if f&OpenFlagExclusive == OpenFlagExclusive {
		out |= sshfx.FlagExclusive
	}
	return out
}

// Open opens the named file for reading.
// If successful, methods on the returned file can be used for reading;
// the associated file handle has mode OpenFlagReadOnly.
func (s *Session) Open(name string) (*File, error) {
	return s.OpenFile(name, OpenFlagReadOnly, 0)
}

// Create creates or truncates the named file.
// If the file already exists, it is truncated.
// If the file does not exist, it is created with mode 0o666 (before umask).
// If successful, methods on the returned File can be used for I/O;
// the associated file handle has mode OpenFlagReadWrite.
func (s *Session) Create(name string) (*File, error) {
	return s.OpenFile(name, OpenFlagReadWrite|OpenFlagCreate|OpenFlagTruncate, 0666)
}

// OpenFile is the generalized open call;
// most users can use the simplified Open or Create methods instead.
// It opens the named file with the specified flag (OpenFlagReadOnly, etc.).
// If the file does not exist, and the OpenFlagCreate flag is passed, it is created with mode perm (before umask).
// If successful, methods on the returned File can be used for I/O.
func (s *Session) OpenFile(name string, flag int, perm fs.FileMode) (*File, error) {
	pkt, err := getPacket[sshfx.HandlePacket](context.Background(), nil, s, &sshfx.OpenPacket{
		Filename: s.resolve(name),
		PFlags:   toPortableFlags(flag),
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrPermissions,
			Permissions: sshfx.FileMode(perm.Perm()),
		},
	})
	if err != nil {
		return nil, wrapPathError("openfile", name, err)
	}

	f := &File{
		s:    s,
		name: name,
	}

	f.handle.init(pkt.Handle)

	return f, nil
}

func (f *File) wrapErr(op string, err error) error {
	return wrapPathError(op, f.name, err)
}

// Close closes the File, rendering it unusable for I/O.
// Close will not send any request, and return an error, if it has already been called.
func (f *File) Close() error {
	if f == nil {
		return fs.ErrInvalid
	}

	return f.wrapErr("close", f.handle.close(f.s))
}

// Name returns the name of the file as presented to Open.
//
// It is safe to call Name after Close.
func (f *File) Name() string {
	return f.name
}

// Stat returns the FileInfo structure describing the file.
func (f *File) Stat() (fs.FileInfo, error) {
	if f == nil {
		return nil, fs.ErrInvalid
	}

	handle, closed, err := f.handle.get()
	if err != nil {
		return nil, f.wrapErr("fstat", err)
	}

	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), closed, f.s, &sshfx.FStatPacket{
		Handle: handle,
	})
	if err != nil {
		return nil, f.wrapErr("fstat", err)
	}

	return &sshfx.NameEntry{
		Filename: f.name,
		Attrs:    pkt.Attrs,
	}, nil
}
