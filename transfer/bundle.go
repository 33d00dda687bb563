// Package transfer implements GroundLift's TCP bulk transfer: a client that
// requests to send one file and streams it once accepted, and a server that
// accepts connections, asks the host application whether to allow each
// request, and writes accepted streams to the download directory.
package transfer

// DefaultChunkSize is the streaming chunk size used by both the send and
// receive loops.
const DefaultChunkSize = 4096

// Bundle describes one file being offered or received: the local path the
// sender reads from (empty on the receiving side), the sanitized leaf name
// carried over the wire, and the size in bytes.
type Bundle struct {
	OriginalPath string
	BaseName     string
	Size         int64
}
