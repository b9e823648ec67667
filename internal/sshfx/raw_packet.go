package sshfx

import (
	"encoding/binary"
	"io"
)

// RawPacket implements the general packet format from draft-ietf-secsh-filexfer-02.
// It splits off the type and request id, and leaves the packet body unparsed,
// so that a receive loop can route a packet before knowing its full shape.
//
// Defined in https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-3
type RawPacket struct {
	PacketType PacketType
	RequestID  uint32

	Data Buffer
}

// UnmarshalFrom decodes a RawPacket from the given Buffer into p.
//
// The Data field takes ownership of the underlying byte slice of buf.
// The caller should not use buf after this call.
func (p *RawPacket) UnmarshalFrom(buf *Buffer) error {
	typ, err := buf.ConsumeUint8()
	if err != nil {
		return err
	}

	p.PacketType = PacketType(typ)

	if p.RequestID, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	p.Data = *buf
	return nil
}

// UnmarshalBinary decodes a full raw packet out of the given data.
// It is assumed that the uint32(length) has already been consumed to receive the data.
//
// NOTE: To avoid extra allocations, UnmarshalBinary aliases the given byte slice.
func (p *RawPacket) UnmarshalBinary(data []byte) error {
	return p.UnmarshalFrom(NewBuffer(data))
}

// ReadFrame reads one uint32-length-prefixed packet frame from r and returns
// its body as a Buffer.
//
// The body is read into hint if it has sufficient capacity,
// otherwise a fresh slice of the advertised length is allocated.
// Frames longer than maxPacketLength are refused with ErrLongPacket.
func ReadFrame(r io.Reader, hint []byte, maxPacketLength uint32) (*Buffer, error) {
	var prefix [4]byte

	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length < 5 {
		// Smaller than a packet type plus a request id or version.
		return nil, ErrShortPacket
	}
	if length > maxPacketLength {
		return nil, ErrLongPacket
	}

	if uint32(cap(hint)) < length {
		hint = make([]byte, length)
	}

	b := hint[:length]
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}

	return NewBuffer(b), nil
}

// ReadFrom reads a full raw packet out of the given reader,
// using hint as the preferred backing buffer for the packet body.
func (p *RawPacket) ReadFrom(r io.Reader, hint []byte, maxPacketLength uint32) error {
	buf, err := ReadFrame(r, hint, maxPacketLength)
	if err != nil {
		return err
	}

	return p.UnmarshalFrom(buf)
}
