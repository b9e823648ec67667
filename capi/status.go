package capi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/socib/go-sftp"
	"github.com/socib/go-sftp/internal/sshfx"
)

// Status is the numeric error class handed across the binding boundary.
type Status uint32

const (
	StatusOK Status = iota

	// StatusConnectionError covers failures to reach or handshake with the
	// server, including rejected host keys and dial timeouts.
	StatusConnectionError

	// StatusAuthError reports rejected credentials.
	StatusAuthError

	// StatusStateError reports an operation on a closed or disconnected
	// session, or a stale handle.
	StatusStateError

	// StatusPathError covers the remote path taxonomy: not found,
	// not a directory, permission denied, already exists, and whatever
	// else the server rejects a path operation with.
	StatusPathError

	// StatusProtocolError reports malformed responses, unsupported
	// operations and a connection lost mid-session.
	StatusProtocolError

	// StatusLocalIOError reports a failure on the local side of a transfer.
	StatusLocalIOError

	// StatusMemoryError is reserved for binding shims that fail to allocate
	// marshaling buffers; the library itself never produces it.
	StatusMemoryError

	// StatusTransferError reports the fatal condition that aborted a
	// download: a failed read request, a bad response, or a local sink
	// write failure.
	StatusTransferError
)

func (st Status) String() string {
	switch st {
	case StatusOK:
		return "ok"
	case StatusConnectionError:
		return "connection error"
	case StatusAuthError:
		return "authentication rejected"
	case StatusStateError:
		return "invalid session state"
	case StatusPathError:
		return "path operation failed"
	case StatusProtocolError:
		return "protocol error"
	case StatusLocalIOError:
		return "local i/o error"
	case StatusMemoryError:
		return "out of memory"
	case StatusTransferError:
		return "transfer aborted"
	default:
		return fmt.Sprintf("status(%d)", uint32(st))
	}
}

// Classify maps an error from the sftp package onto the numeric taxonomy,
// along with its diagnostic message. A nil error is StatusOK.
func Classify(err error) (Status, string) {
	if err == nil {
		return StatusOK, ""
	}

	msg := err.Error()

	var terr *sftp.TransferError
	if errors.As(err, &terr) {
		return StatusTransferError, msg
	}

	if errors.Is(err, sftp.ErrNotConnected) {
		return StatusStateError, msg
	}

	var aerr *ssh.ServerAuthError
	if errors.As(err, &aerr) {
		return StatusAuthError, msg
	}

	var kerr *knownhosts.KeyError
	var nerr net.Error
	if errors.As(err, &kerr) || errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return StatusConnectionError, msg
	}

	// A syscall errno only enters through local file operations;
	// ENOTDIR is the one errno the session itself reports (Chdir).
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != syscall.ENOTDIR {
		return StatusLocalIOError, msg
	}

	var status *sshfx.StatusPacket
	if errors.As(err, &status) {
		return classifyStatus(status.StatusCode), msg
	}

	switch {
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission),
		errors.Is(err, fs.ErrExist),
		errors.Is(err, syscall.ENOTDIR):
		return StatusPathError, msg
	}

	return StatusProtocolError, msg
}

func classifyStatus(code sshfx.Status) Status {
	switch code {
	case sshfx.StatusBadMessage, sshfx.StatusOPUnsupported,
		sshfx.StatusNoConnection, sshfx.StatusConnectionLost:
		return StatusProtocolError
	}

	return StatusPathError
}
