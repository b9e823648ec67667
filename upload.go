package sftp

import (
	"cmp"
	"context"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/socib/go-sftp/internal/sshfx"
)

// ReadFrom reads data from r until EOF and writes it to the file.
// The return value is the number of bytes read from r.
//
// Writes are issued strictly one at a time, each waiting for the server's
// acknowledgement before the next chunk is read from r. Any read failure,
// or any write the server does not acknowledge with SSH_FX_OK, aborts the
// transfer with no retry; the bytes already written stay on the server.
func (f *File) ReadFrom(r io.Reader) (read int64, err error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	handle, closed, err := f.handle.get()
	if err != nil {
		return 0, f.wrapErr("upload", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ctx := context.Background()

	b := make([]byte, f.s.uploadChunk)

	req := &sshfx.WritePacket{
		Handle: handle,
	}

	for {
		n, err := r.Read(b)
		if n < 0 {
			panic("sftp: upload: read returned negative count")
		}

		if n > 0 {
			read += int64(n)

			req.Data = b[:n]
			req.Offset = uint64(f.offset)

			err1 := f.s.sendPacket(ctx, closed, req)
			if err1 == nil {
				// Only advance the file offset on a success response.
				f.offset += int64(n)
			}

			err = cmp.Or(err, err1)
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return read, nil // return nil instead of EOF
			}

			return read, f.wrapErr("upload", err)
		}
	}
}

// Upload copies data from r into the named remote file, creating it with
// permission bits perm if it does not exist, truncating it if it does.
// The return value is the number of bytes read from r.
// A failed upload is not rolled back: the remote file keeps whatever bytes
// arrived before the failure.
func (s *Session) Upload(r io.Reader, name string, perm fs.FileMode) (int64, error) {
	f, err := s.OpenFile(name, OpenFlagWriteOnly|OpenFlagCreate|OpenFlagTruncate, perm)
	if err != nil {
		return 0, err
	}

	log := s.log.WithFields(logrus.Fields{
		"op":   "upload",
		"path": name,
	})
	log.Debug("upload started")

	n, err := f.ReadFrom(r)

	err = cmp.Or(err, f.Close())
	if err == nil {
		log.WithField("bytes", n).Debug("upload finished")
	}

	return n, err
}

// UploadFile copies the named local file to the remote side, creating the
// remote file with the local source's permission bits.
func (s *Session) UploadFile(localPath, remoteName string) error {
	r, err := os.Open(localPath)
	if err != nil {
		return err
	}

	fi, err := r.Stat()
	if err != nil {
		r.Close()
		return err
	}

	_, err = s.Upload(r, remoteName, fi.Mode().Perm())

	// Report a transfer failure ahead of a local close failure.
	return cmp.Or(err, r.Close())
}
