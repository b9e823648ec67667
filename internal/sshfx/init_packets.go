package sshfx

import (
	"fmt"
	"io"
)

// ExtensionPair defines the extension-pair type defined in draft-ietf-secsh-filexfer-13,
// used during initialization.
//
// Defined in: https://tools.ietf.org/html/draft-ietf-secsh-filexfer-13#section-4.2
type ExtensionPair struct {
	Name string
	Data string
}

// Len returns the number of bytes e would marshal into.
func (e *ExtensionPair) Len() int {
	return 4 + len(e.Name) + 4 + len(e.Data)
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *ExtensionPair) MarshalInto(buf *Buffer) {
	buf.AppendString(e.Name)
	buf.AppendString(e.Data)
}

// UnmarshalFrom unmarshals an ExtensionPair from the given Buffer into e.
func (e *ExtensionPair) UnmarshalFrom(buf *Buffer) (err error) {
	if e.Name, err = buf.ConsumeString(); err != nil {
		return err
	}

	if e.Data, err = buf.ConsumeString(); err != nil {
		return err
	}

	return nil
}

// InitPacket defines the SSH_FXP_INIT packet.
//
// It is the only client packet carrying no request id.
type InitPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p, including the length prefix.
func (p *InitPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	buf := NewBuffer(make([]byte, 4, 4+size))
	buf.AppendUint8(uint8(PacketTypeInit))
	buf.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(buf)
	}

	buf.PutLength(size)

	return buf.Bytes(), nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint8(type) has already been consumed.
func (p *InitPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// VersionPacket defines the SSH_FXP_VERSION packet.
//
// Like SSH_FXP_INIT it carries no request id.
type VersionPacket struct {
	Version    uint32
	Extensions []*ExtensionPair
}

// MarshalBinary returns p as the binary encoding of p, including the length prefix.
func (p *VersionPacket) MarshalBinary() ([]byte, error) {
	size := 1 + 4 // byte(type) + uint32(version)

	for _, ext := range p.Extensions {
		size += ext.Len()
	}

	buf := NewBuffer(make([]byte, 4, 4+size))
	buf.AppendUint8(uint8(PacketTypeVersion))
	buf.AppendUint32(p.Version)

	for _, ext := range p.Extensions {
		ext.MarshalInto(buf)
	}

	buf.PutLength(size)

	return buf.Bytes(), nil
}

// UnmarshalPacketBody unmarshals the packet body from the given Buffer.
// It is assumed that the uint8(type) has already been consumed.
func (p *VersionPacket) UnmarshalPacketBody(buf *Buffer) (err error) {
	if p.Version, err = buf.ConsumeUint32(); err != nil {
		return err
	}

	for buf.Len() > 0 {
		var ext ExtensionPair
		if err := ext.UnmarshalFrom(buf); err != nil {
			return err
		}

		p.Extensions = append(p.Extensions, &ext)
	}

	return nil
}

// ReadFrom reads a full version packet out of the given reader.
// Unlike other response packets it carries no request id,
// so it cannot be routed through a RawPacket.
func (p *VersionPacket) ReadFrom(r io.Reader, hint []byte, maxPacketLength uint32) error {
	buf, err := ReadFrame(r, hint, maxPacketLength)
	if err != nil {
		return err
	}

	typ, err := buf.ConsumeUint8()
	if err != nil {
		return err
	}

	if PacketType(typ) != PacketTypeVersion {
		return fmt.Errorf("unexpected packet type: %s", PacketType(typ))
	}

	return p.UnmarshalPacketBody(buf)
}
