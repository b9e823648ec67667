// Package sshfx implements the wire encoding of SFTP protocol version 3,
// as defined in draft-ietf-secsh-filexfer-02.
//
// The package is a pure codec: it knows how to marshal and unmarshal packets,
// but nothing about transports, request-id allocation, or sessions.
package sshfx

// ProtocolVersion is the protocol version this package implements.
//
// Defined in https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-3
const ProtocolVersion = 3

// Packet length limits, following the OpenSSH sftp implementation.
//
// The overhead is the difference between the maximum accepted packet length
// and the maximum data payload length of a single SSH_FXP_DATA packet.
const (
	DefaultMaxPacketLength  = 34000
	DefaultMaxDataLength    = 32768
	MaxPacketLengthOverhead = DefaultMaxPacketLength - DefaultMaxDataLength
)

// Open packet pflags.
//
// Defined in https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-6.3
const (
	FlagRead     = 1 << iota // SSH_FXF_READ
	FlagWrite                // SSH_FXF_WRITE
	FlagAppend               // SSH_FXF_APPEND
	FlagCreate               // SSH_FXF_CREAT
	FlagTruncate             // SSH_FXF_TRUNC
	FlagExclusive            // SSH_FXF_EXCL
)

// PacketMarshaller narrows the interface to just the marshalling half,
// for callers that only ever send a packet.
type PacketMarshaller interface {
	// MarshalPacket is expected to use the given reqid in place of any
	// internal request-id field, and may use b as scratch space for the
	// header if it has sufficient capacity.
	MarshalPacket(reqid uint32, b []byte) (header, payload []byte, err error)
}

// Packet defines the behavior of a full SFTP packet.
type Packet interface {
	PacketMarshaller

	Type() PacketType
	UnmarshalPacketBody(buf *Buffer) error
}

// ComposePacket converts returns from MarshalPacket into the returns expected by MarshalBinary.
func ComposePacket(header, payload []byte, err error) ([]byte, error) {
	return append(header, payload...), err
}
