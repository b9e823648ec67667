package sftp

import (
	"cmp"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/socib/go-sftp/internal/sshfx"
)

// slot tracks one byte range of a windowed download.
//
// A slot with res != nil has a read request in flight for its range.
// A slot with res == nil and len > 0 awaits issue or re-issue.
// A slot with res == nil and len == 0 is satisfied, and may be recycled to
// the next unread range while end-of-file has not been seen.
type slot struct {
	res   chan result
	reqid uint32
	off   uint64
	len   uint32
}

// downloader drives a windowed download of one open file into an io.WriterAt.
//
// A single goroutine owns the downloader. The round trips of the slots
// overlap in time, but every channel operation happens from that one owner,
// so no locking is involved beyond the connection's own dispatch.
type downloader struct {
	f *File
	w io.WriterAt

	handle string
	cancel <-chan struct{}

	window []*slot
	chunk  uint32 // request length for newly created or recycled slots
	next   uint64 // next unread offset to hand to a fresh slot

	written int64
	eof     bool // the server has answered a range with SSH_FX_EOF or zero bytes
	short   bool // a response in the last collect returned fewer bytes than asked

	log *logrus.Entry
}

// dispatch issues a read for every slot that is not in flight.
// Satisfied slots are first recycled to the next unread range,
// unless end-of-file has already been seen.
func (d *downloader) dispatch() error {
	req := &sshfx.ReadPacket{
		Handle: d.handle,
	}

	for _, sl := range d.window {
		if sl.res != nil {
			continue
		}

		if sl.len == 0 {
			if d.eof {
				continue
			}

			sl.off = d.next
			sl.len = d.chunk
			d.next += uint64(d.chunk)
		}

		req.Offset = sl.off
		req.Length = sl.len

		reqid, res, err := d.f.s.conn.dispatch(d.cancel, req)
		if err != nil {
			// Issuing a request only fails when the connection is gone or
			// the handle was closed underneath us. Neither can be retried.
			return err
		}

		sl.reqid = reqid
		sl.res = res
	}

	return nil
}

// grow widens the window by one slot, as long as the previous cycle
// collected no short responses, end-of-file has not been seen,
// and the window is not yet at full width.
func (d *downloader) grow() {
	if d.short || d.eof || len(d.window) >= d.f.s.maxWindow {
		return
	}

	d.window = append(d.window, &slot{
		off: d.next,
		len: d.chunk,
	})
	d.next += uint64(d.chunk)
}

// shrink halves the request length used for subsequently created slots
// whenever the previous cycle collected a short response.
// It never goes below the configured minimum.
func (d *downloader) shrink() {
	if !d.short || d.chunk <= d.f.s.minChunk {
		return
	}

	d.chunk >>= 1
	if d.chunk < d.f.s.minChunk {
		d.chunk = d.f.s.minChunk
	}

	d.log.WithField("chunk", d.chunk).Trace("shrinking read request length")
}

// collect polls every in-flight slot once, without blocking.
// If no response at all was ready, it blocks on the first in-flight slot
// rather than spinning; responses for the others keep accumulating in
// their buffered channels meanwhile.
func (d *downloader) collect() error {
	d.short = false

	var collected int

	for _, sl := range d.window {
		if sl.res == nil {
			continue
		}

		select {
		case res := <-sl.res:
			d.f.s.conn.resPool.Put(sl.res)
			sl.res = nil

			if err := d.absorb(sl, res); err != nil {
				return err
			}
			collected++

		default:
			// Not ready, leave it in flight.
		}
	}

	if collected > 0 {
		return nil
	}

	for _, sl := range d.window {
		if sl.res == nil {
			continue
		}

		res := <-sl.res
		d.f.s.conn.resPool.Put(sl.res)
		sl.res = nil

		return d.absorb(sl, res)
	}

	return nil
}

// absorb applies one arrived response to its slot.
//
// Data is written at the slot's own offset, so responses arriving out of
// order across slots can never land bytes in the wrong place. A response
// shorter than the request leaves the remainder in the slot for re-issue;
// that is expected behavior, not an error. A zero-length response or
// SSH_FX_EOF marks global end-of-file. Anything else is fatal.
func (d *downloader) absorb(sl *slot, res result) error {
	if res.err != nil {
		return res.err
	}

	raw := res.pkt
	defer d.f.s.conn.returnRaw(raw)

	if raw.RequestID != sl.reqid {
		return errors.Errorf("unexpected request id: %d != %d", raw.RequestID, sl.reqid)
	}

	switch raw.PacketType {
	case sshfx.PacketTypeData:
		data, err := raw.Data.ConsumeByteSlice()
		if err != nil {
			return err
		}

		if len(data) == 0 {
			d.eof = true
			sl.len = 0
			return nil
		}

		// Clamp an over-long response to the range we asked for.
		n := min(len(data), int(sl.len))

		if _, err := d.w.WriteAt(data[:n], int64(sl.off)); err != nil {
			return err
		}

		d.written += int64(n)

		sl.off += uint64(n)
		sl.len -= uint32(n)

		if sl.len > 0 {
			d.short = true
		}

		return nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return err
		}

		if err := statusToError(&status, false); !errors.Is(err, io.EOF) {
			return err
		}

		d.eof = true
		sl.len = 0
		return nil

	default:
		return errors.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}

// done reports whether the transfer is complete:
// end-of-file seen, no request in flight, and every slot satisfied.
func (d *downloader) done() bool {
	if !d.eof {
		return false
	}

	for _, sl := range d.window {
		if sl.res != nil || sl.len > 0 {
			return false
		}
	}

	return true
}

// drain discards the responses of any slots still in flight,
// restoring the connection's result pool.
func (d *downloader) drain() {
	for _, sl := range d.window {
		if sl.res != nil {
			d.f.s.conn.discardBlocking(sl.res)
			sl.res = nil
		}
	}
}

func (d *downloader) run() error {
	defer d.drain()

	for {
		if err := d.dispatch(); err != nil {
			return err
		}

		d.grow()
		d.shrink()

		if err := d.collect(); err != nil {
			return err
		}

		if d.done() {
			return nil
		}
	}
}

// WriteToAt downloads the entire file into w.
//
// It keeps up to maxWindow read requests in flight, and adapts the request
// length to what the server actually returns, so high-latency links stay
// busy without over-asking. Responses may complete in any order: every byte
// is written at its own file offset, so reassembly never depends on arrival
// order. The return value is the number of bytes written to w.
//
// A fatal error aborts the transfer and is reported as a [*TransferError];
// the content of w is then unspecified.
func (f *File) WriteToAt(w io.WriterAt) (written int64, err error) {
	if f == nil {
		return 0, fs.ErrInvalid
	}

	handle, closed, err := f.handle.get()
	if err != nil {
		return 0, f.wrapErr("download", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	s := f.s

	d := &downloader{
		f:      f,
		w:      w,
		handle: handle,
		cancel: closed,
		window: make([]*slot, 0, s.maxWindow),
		chunk:  s.maxChunk,
		log: s.log.WithFields(logrus.Fields{
			"op":   "download",
			"path": f.name,
		}),
	}

	d.log.WithFields(logrus.Fields{
		"max_window": s.maxWindow,
		"max_chunk":  s.maxChunk,
		"min_chunk":  s.minChunk,
	}).Debug("download started")

	if err := d.run(); err != nil {
		return d.written, &TransferError{Op: "download", Path: f.name, Err: err}
	}

	d.log.WithField("bytes", d.written).Debug("download finished")

	return d.written, nil
}

// Download copies the named remote file into w.
// The return value is the number of bytes written to w.
func (s *Session) Download(name string, w io.WriterAt) (int64, error) {
	f, err := s.Open(name)
	if err != nil {
		return 0, err
	}

	n, err := f.WriteToAt(w)

	return n, cmp.Or(err, f.Close())
}

// DownloadFile copies the named remote file to a local file,
// creating it if necessary, truncating it otherwise.
// The remote file is opened first,
// so a missing remote name does not leave an empty local file behind.
// A failed download leaves the local file in an unspecified state;
// nothing is rolled back.
func (s *Session) DownloadFile(remoteName, localPath string) error {
	f, err := s.Open(remoteName)
	if err != nil {
		return err
	}

	w, err := os.Create(localPath)
	if err != nil {
		f.Close()
		return err
	}

	_, err = f.WriteToAt(w)

	return cmp.Or(err, f.Close(), w.Close())
}
