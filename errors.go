package sftp

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"

	"github.com/socib/go-sftp/internal/sshfx"
)

// ErrNotConnected is returned by any operation on a session whose channel
// has been released, or was never established.
var ErrNotConnected = errors.New("sftp: not connected")

// TransferError reports the fatal condition that aborted a download:
// a failed read request, a bad response, or a local sink write failure.
// The content of the local destination is then unspecified;
// nothing is rolled back.
type TransferError struct {
	Op   string // "download"
	Path string // remote path of the transfer
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("sftp: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// statusToError converts a STATUS response into the error to report upward.
//
// The common codes map onto standard library sentinels, so callers can test
// with errors.Is against io.EOF, fs.ErrNotExist and friends. Everything else
// is returned as the status packet itself, preserving the code and the
// server-supplied message.
func statusToError(status *sshfx.StatusPacket, okExpected bool) error {
	switch status.StatusCode {
	case sshfx.StatusOK:
		if !okExpected {
			return errors.New("unexpected SSH_FX_OK")
		}
		return nil

	case sshfx.StatusEOF:
		return io.EOF
	case sshfx.StatusNoSuchFile:
		return fs.ErrNotExist
	case sshfx.StatusPermissionDenied:
		return fs.ErrPermission
	}

	return status
}

func wrapPathError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) {
		// Numerous odd things break if we don't return bare io.EOF errors.
		return io.EOF
	}

	return &fs.PathError{Op: op, Path: path, Err: err}
}

func wrapLinkError(op, oldpath, newpath string, err error) error {
	if err == nil {
		return nil
	}

	return &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: err}
}
