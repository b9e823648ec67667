package capi

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/socib/go-sftp"
)

// Record is the flat directory-entry shape handed across the binding
// boundary.
type Record struct {
	Name    string
	Size    uint64
	IsDir   bool
	ModTime time.Time
}

func newRecord(fi fs.FileInfo) Record {
	return Record{
		Name:    fi.Name(),
		Size:    uint64(fi.Size()),
		IsDir:   fi.IsDir(),
		ModTime: fi.ModTime(),
	}
}

func newRecords(fis []fs.FileInfo) []Record {
	recs := make([]Record, 0, len(fis))
	for _, fi := range fis {
		recs = append(recs, newRecord(fi))
	}

	return recs
}

// OpenSession connects to the configured server, registers the session and
// returns its handle. On failure the handle is InvalidHandle and the status
// distinguishes unreachable/handshake trouble (StatusConnectionError),
// rejected credentials (StatusAuthError) and a session that came up but
// could not finish initializing (StatusStateError).
func (r *Registry) OpenSession(ctx context.Context, cfg sftp.Config, opts ...sftp.SessionOption) (Handle, Status, string) {
	s, err := sftp.Connect(ctx, cfg, opts...)
	if err != nil {
		st, msg := Classify(err)

		switch st {
		case StatusAuthError:
		case StatusPathError, StatusProtocolError:
			// Those classes only arise once the channel is up, meaning
			// the post-handshake working-directory query failed.
			st = StatusStateError
		default:
			st = StatusConnectionError
		}

		return InvalidHandle, st, msg
	}

	return r.Adopt(s), StatusOK, ""
}

// CloseSession closes the session and retires the handle slot.
func (r *Registry) CloseSession(h Handle) (Status, string) {
	s, ok := r.retire(h)
	if !ok {
		return StatusStateError, "invalid or stale session handle"
	}

	return Classify(s.Close())
}

// Disconnect drops the session's connection but keeps the handle slot
// alive: subsequent operations on the handle report StatusStateError until
// CloseSession retires it.
func (r *Registry) Disconnect(h Handle) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.Close())
}

// GetWorkingDirectory reports the session's current remote directory,
// or the empty string once the session has been disconnected.
func (r *Registry) GetWorkingDirectory(h Handle) (string, Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return "", st, msg
	}

	return s.Getwd(), StatusOK, ""
}

func (r *Registry) ChangeDirectory(h Handle, path string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.Chdir(path))
}

func (r *Registry) StatEntry(h Handle, path string) (Record, Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return Record{}, st, msg
	}

	fi, err := s.Stat(path)
	if err != nil {
		st, msg := Classify(err)
		return Record{}, st, msg
	}

	return newRecord(fi), StatusOK, ""
}

func (r *Registry) ListDirectory(h Handle, path string) ([]Record, Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return nil, st, msg
	}

	fis, err := s.ReadDir(path)
	if err != nil {
		st, msg := Classify(err)
		return nil, st, msg
	}

	return newRecords(fis), StatusOK, ""
}

func (r *Registry) ListGlob(h Handle, pattern string) ([]Record, Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return nil, st, msg
	}

	fis, err := s.Glob(pattern)
	if err != nil {
		st, msg := Classify(err)
		return nil, st, msg
	}

	return newRecords(fis), StatusOK, ""
}

// MakeDirectory creates the directory with mode 0755. A directory that
// already exists counts as success.
func (r *Registry) MakeDirectory(h Handle, path string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	err := s.Mkdir(path, 0o755)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return StatusOK, ""
	}

	// Version 3 servers commonly report a bare FAILURE for an existing
	// directory instead of FILE_ALREADY_EXISTS; look once before failing.
	if fi, serr := s.Stat(path); serr == nil && fi.IsDir() {
		return StatusOK, ""
	}

	return Classify(err)
}

func (r *Registry) RemoveDirectory(h Handle, path string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.Rmdir(path))
}

func (r *Registry) Rename(h Handle, oldpath, newpath string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.Rename(oldpath, newpath))
}

func (r *Registry) DeleteFile(h Handle, path string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.Remove(path))
}

// Download copies the remote file to the local path. Local failures report
// StatusLocalIOError; a transfer aborted mid-flight reports
// StatusTransferError with the local file content unspecified.
func (r *Registry) Download(h Handle, remotePath, localPath string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.DownloadFile(remotePath, localPath))
}

// Upload copies the local file to the remote path, carrying the local
// permission bits into the remote create.
func (r *Registry) Upload(h Handle, localPath, remotePath string) (Status, string) {
	s, st, msg := r.session(h)
	if st != StatusOK {
		return st, msg
	}

	return Classify(s.UploadFile(localPath, remotePath))
}
