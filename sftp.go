// Package sftp implements a client-side session for the SSH File Transfer
// Protocol version 3, as described in
// https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02
//
// A Session wraps one SFTP channel and tracks a remote working directory
// against which relative paths are resolved, a notion the protocol itself
// does not have.
//
// Downloads pipeline a sliding window of read requests to hide round-trip
// latency, shrinking the request size when the server answers short, and
// reassemble the file by absolute offset so responses may complete in any
// order. Uploads are sequential, one bounded chunk per round trip.
package sftp

import (
	"github.com/socib/go-sftp/internal/sshfx"
)

const sftpProtocolVersion = sshfx.ProtocolVersion

// Transfer tuning defaults, adjustable per session with the With* options.
const (
	// DefaultMaxWindow is the maximum number of concurrently
	// outstanding read requests during a download.
	DefaultMaxWindow = 32

	// DefaultMaxChunk is the starting length of a single read request.
	// The window shrinks from it when the server answers short.
	DefaultMaxChunk = 512 * 1024

	// DefaultMinChunk is the floor below which read requests never shrink.
	DefaultMinChunk = 512

	// DefaultUploadChunk is the fixed length of a single write request.
	DefaultUploadChunk = 64 * 1024
)
