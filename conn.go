package sftp

import (
	"context"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/socib/go-sftp/internal/pool"
	"github.com/socib/go-sftp/internal/sshfx"
)

type result struct {
	pkt *sshfx.RawPacket
	err error
}

// clientConn multiplexes request/response pairs over one SFTP channel.
// Packets are written atomically, and responses are routed back to the
// dispatching caller by request id, so they may be collected in any order.
type clientConn struct {
	reqid atomic.Uint32
	rd    io.Reader

	resPool *pool.WorkPool[result]

	bufPool *pool.SlicePool[[]byte, byte]
	pktPool *pool.Pool[sshfx.RawPacket]

	mu       sync.Mutex
	closed   chan struct{}
	inflight map[uint32]chan<- result
	wr       io.WriteCloser
	err      error
}

// handshake negotiates the protocol version,
// and returns the extensions announced by the server.
func (c *clientConn) handshake(ctx context.Context, maxPacket uint32) (map[string]string, error) {
	initPkt := &sshfx.InitPacket{
		Version: sftpProtocolVersion,
	}

	data, err := initPkt.MarshalBinary()
	if err != nil {
		return nil, err
	}

	if _, err := c.wr.Write(data); err != nil {
		return nil, err
	}

	var verPkt sshfx.VersionPacket
	errch := make(chan error, 1)

	go func() {
		defer close(errch)

		b := make([]byte, maxPacket)

		if err := verPkt.ReadFrom(c.rd, b, maxPacket); err != nil {
			errch <- err
			return
		}

		if verPkt.Version != sftpProtocolVersion {
			errch <- errors.Errorf("sftp: unexpected server version: got %v, want %v", verPkt.Version, sftpProtocolVersion)
			return
		}
	}()

	select {
	case err := <-errch:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	exts := make(map[string]string)
	for _, ext := range verPkt.Extensions {
		exts[ext.Name] = ext.Data
	}
	return exts, nil
}

func (c *clientConn) getChan(reqid uint32) (chan<- result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, loaded := c.inflight[reqid]
	delete(c.inflight, reqid)

	return ch, loaded
}

// Wait blocks until the connection has been torn down,
// and returns the error that tore it down, if any.
func (c *clientConn) Wait() error {
	<-c.closed
	return c.err
}

func (c *clientConn) disconnect(err error) {
	c.mu.Lock()

	select {
	case <-c.closed:
		// already closed
		c.mu.Unlock()
		return
	default:
	}

	c.err = err
	close(c.closed)

	bcastRes := result{
		err: sshfx.StatusConnectionLost,
	}

	for reqid, ch := range c.inflight {
		ch <- bcastRes

		// Replace the chan inflight,
		// we have hijacked this chan,
		// and this guarantees always-only-once sending.
		c.inflight[reqid] = make(chan<- result, 1)
	}

	c.mu.Unlock()

	// Wait for all outstanding work channels to be returned.
	// The mutex cannot be held here: a dispatch in progress may be holding a
	// channel from the pool while it waits on the mutex to fail fast.
	c.resPool.Close()
}

func (c *clientConn) recvLoop(maxPacket uint32) error {
	defer c.wr.Close()

	for {
		raw := c.pktPool.Get()
		hint := c.bufPool.Get()

		res := result{
			pkt: raw,
		}

		if err := res.pkt.ReadFrom(c.rd, hint, maxPacket); err != nil {
			return err
		}

		ch, loaded := c.getChan(res.pkt.RequestID)
		if !loaded {
			// This is an unexpected occurrence.
			// Send the error back to all listeners,
			// so they can terminate gracefully.
			return errors.Errorf("request id not found: %d", res.pkt.RequestID)
		}

		ch <- res
	}
}

// dispatch will marshal, then dispatch the given request packet.
// Packets are written atomically to the connection.
// It returns the allocated request id (a monotonously incrementing value),
// and either a channel upon which the result will be returned, or an error.
//
// If the cancel channel has been closed before the request is dispatched,
// then dispatch will return an [fs.ErrClosed] error.
func (c *clientConn) dispatch(cancel <-chan struct{}, req sshfx.PacketMarshaller) (uint32, chan result, error) {
	reqid := c.reqid.Add(1)

	header, payload, err := req.MarshalPacket(reqid, c.bufPool.Get())
	if err != nil {
		return reqid, nil, err
	}
	defer c.bufPool.Put(header)

	// payload by design of the API is all but guaranteed to alias a caller-held byte slice,
	// so, _do not_ put it into the bufPool.

	ch, ok := c.resPool.Get()
	if !ok {
		return reqid, nil, sshfx.StatusConnectionLost
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		// Disconnected while we were acquiring the channel.
		c.resPool.Put(ch)
		return reqid, nil, sshfx.StatusConnectionLost

	case <-cancel:
		c.resPool.Put(ch)
		return reqid, nil, fs.ErrClosed

	default:
	}

	if c.inflight == nil {
		c.inflight = make(map[uint32]chan<- result)
	}

	c.inflight[reqid] = ch

	if _, err := c.wr.Write(header); err != nil {
		delete(c.inflight, reqid)
		c.resPool.Put(ch)
		return reqid, nil, errors.Wrap(err, "sftp: write packet header")
	}

	if len(payload) != 0 {
		if _, err := c.wr.Write(payload); err != nil {
			delete(c.inflight, reqid)
			c.resPool.Put(ch)
			return reqid, nil, errors.Wrap(err, "sftp: write packet payload")
		}
	}

	return reqid, ch, nil
}

func (c *clientConn) returnRaw(raw *sshfx.RawPacket) {
	if raw == nil {
		// Broadcast results carry no packet.
		return
	}

	c.bufPool.Put(raw.Data.HintReturn())
	c.pktPool.Put(raw)
}

func (c *clientConn) discardBlocking(ch chan result) {
	res := <-ch

	c.returnRaw(res.pkt)
	c.resPool.Put(ch)
}

func (c *clientConn) discard(ch chan result) {
	select {
	case res := <-ch:
		// We received a result, so we can reuse this channel now.
		c.returnRaw(res.pkt)
		c.resPool.Put(ch)

	default:
		// There wasn't a result immediately,
		// So, to be safe, we will throw away the old result channel.
		// If we tried to reuse this channel,
		// a new request could get an old result.
		c.resPool.Put(make(chan result, 1))
	}
}

func (c *clientConn) recv(ctx context.Context, reqid uint32, ch chan result) (*sshfx.RawPacket, error) {
	select {
	case <-ctx.Done():
		c.discard(ch)
		return nil, ctx.Err()

	case res := <-ch:
		c.resPool.Put(ch)

		if res.err != nil {
			return nil, res.err
		}

		if res.pkt.RequestID != reqid {
			return nil, errors.Errorf("unexpected request id: %d != %d", res.pkt.RequestID, reqid)
		}

		return res.pkt, nil
	}
}

func (c *clientConn) send(ctx context.Context, cancel <-chan struct{}, req sshfx.PacketMarshaller) (*sshfx.RawPacket, error) {
	reqid, ch, err := c.dispatch(cancel, req)
	if err != nil {
		return nil, err
	}

	return c.recv(ctx, reqid, ch)
}
