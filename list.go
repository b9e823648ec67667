package sftp

import (
	"context"
	"io"
	"io/fs"
	"iter"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/socib/go-sftp/internal/sshfx"
)

// Stat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the link's target.
func (s *Session) Stat(name string) (fs.FileInfo, error) {
	p := s.resolve(name)

	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), nil, s, &sshfx.StatPacket{
		Path: p,
	})
	if err != nil {
		return nil, wrapPathError("stat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: p,
		Attrs:    pkt.Attrs,
	}, nil
}

// Lstat returns a FileInfo describing the named file.
// If the file is a symbolic link, the returned FileInfo describes the
// symbolic link itself; Lstat makes no attempt to follow the link.
func (s *Session) Lstat(name string) (fs.FileInfo, error) {
	p := s.resolve(name)

	pkt, err := getPacket[sshfx.AttrsPacket](context.Background(), nil, s, &sshfx.LStatPacket{
		Path: p,
	})
	if err != nil {
		return nil, wrapPathError("lstat", name, err)
	}

	return &sshfx.NameEntry{
		Filename: p,
		Attrs:    pkt.Attrs,
	}, nil
}

// Dir represents an open directory handle.
type Dir struct {
	s    *Session
	name string

	handle handle

	mu      sync.RWMutex
	entries []*sshfx.NameEntry
}

// OpenDir opens the named directory for reading.
// If successful, methods on the returned Dir can be used for reading.
func (s *Session) OpenDir(name string) (*Dir, error) {
	pkt, err := getPacket[sshfx.HandlePacket](context.Background(), nil, s, &sshfx.OpenDirPacket{
		Path: s.resolve(name),
	})
	if err != nil {
		return nil, wrapPathError("opendir", name, err)
	}

	d := &Dir{
		s:    s,
		name: name,
	}

	d.handle.init(pkt.Handle)

	return d, nil
}

func (d *Dir) wrapErr(op string, err error) error {
	return wrapPathError(op, d.name, err)
}

// Close closes the Dir, rendering it unusable for I/O.
// It returns an error if it has already been called.
func (d *Dir) Close() error {
	if d == nil {
		return os.ErrInvalid
	}

	return d.wrapErr("close", d.handle.close(d.s))
}

// Name returns the name of the directory as presented to OpenDir.
func (d *Dir) Name() string {
	return d.name
}

// rangedir returns an iterator over the directory entries of the directory.
// We do not expose an iterator, because none has been standardized yet,
// and we do not want to accidentally implement an inconsistent API.
// However, for internal usage, we can definitely make use of this to
// simplify the common parts of ReaddirContext and Glob.
//
// Callers must guarantee synchronization by either holding the directory
// lock, or holding an exclusive reference.
func (d *Dir) rangedir(ctx context.Context) iter.Seq2[*sshfx.NameEntry, error] {
	return func(yield func(v *sshfx.NameEntry, err error) bool) {
		// Pull from saved entries first.
		for i, ent := range d.entries {
			if !yield(ent, nil) {
				// Early break, delete the entries we have yielded.
				d.entries = slices.Delete(d.entries, 0, i+1)
				return
			}
		}

		// We got through all the remaining entries, delete all the entries.
		d.entries = slices.Delete(d.entries, 0, len(d.entries))

		for {
			handle, closed, err := d.handle.get()
			if err != nil {
				yield(nil, err)
				return
			}

			pkt, err := getPacket[sshfx.NamePacket](ctx, closed, d.s, &sshfx.ReadDirPacket{
				Handle: handle,
			})
			if err != nil {
				// There are no remaining entries to save here,
				// SFTP can only return either an error or a result, never both.
				yield(nil, err)
				return
			}

			for i, entry := range pkt.Entries {
				if !yield(entry, nil) {
					// Early break, save the remaining entries we got for maybe later.
					d.entries = append(d.entries, pkt.Entries[i+1:]...)
					return
				}
			}
		}
	}
}

// Readdir calls [ReaddirContext] with the background context.
func (d *Dir) Readdir(n int) ([]fs.FileInfo, error) {
	return d.ReaddirContext(context.Background(), n)
}

// ReaddirContext reads the contents of the directory and returns a slice of
// up to n [fs.FileInfo] values, as they were returned from the server,
// in directory order.
// Subsequent calls on the same directory will yield later records.
//
// If n > 0, ReaddirContext returns at most n records.
// In this case, if ReaddirContext returns an empty slice,
// it will return an error explaining why.
// At the end of a directory, the error is io.EOF.
//
// If n <= 0, ReaddirContext returns all the records remaining in the
// directory. When it succeeds, it returns a nil error (not io.EOF).
func (d *Dir) ReaddirContext(ctx context.Context, n int) ([]fs.FileInfo, error) {
	if d == nil {
		return nil, os.ErrInvalid
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var ret []fs.FileInfo

	for ent, err := range d.rangedir(ctx) {
		if err != nil {
			if errors.Is(err, io.EOF) && n <= 0 {
				return ret, nil
			}

			return ret, d.wrapErr("readdir", err)
		}

		ret = append(ret, ent)

		if n > 0 && len(ret) >= n {
			break
		}
	}

	return ret, nil
}

// ReadDir reads the named directory, returning its entries in the order the
// server yields them. Entries whose name starts with a dot are excluded.
// A failing read discards any partially collected entries and returns the
// server error instead.
func (s *Session) ReadDir(name string) ([]fs.FileInfo, error) {
	d, err := s.OpenDir(name)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	fis, err := d.ReaddirContext(context.Background(), 0)
	if err != nil {
		return nil, err
	}

	keep := fis[:0]
	for _, fi := range fis {
		if strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		keep = append(keep, fi)
	}

	return keep, nil
}

// Glob reads the directory named by the non-wildcard part of pattern and
// returns the entries whose name matches its final segment,
// in the order the server yields them.
// Only the final segment may carry wildcards; hidden entries are listed
// when the pattern names them explicitly, as in ".*".
// A failing read discards any partially collected entries and returns the
// server error instead.
func (s *Session) Glob(pattern string) ([]fs.FileInfo, error) {
	resolved := s.resolve(pattern)

	dir, leaf := path.Split(resolved)
	if dir != "/" {
		dir = strings.TrimSuffix(dir, "/")
	}

	d, err := s.OpenDir(dir)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	fis, err := d.ReaddirContext(context.Background(), 0)
	if err != nil {
		return nil, err
	}

	keep := fis[:0]
	for _, fi := range fis {
		if Match(leaf, fi.Name()) {
			keep = append(keep, fi)
		}
	}

	return keep, nil
}
