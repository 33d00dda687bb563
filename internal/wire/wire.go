// Package wire implements GroundLift's length-framed control-message codec:
// the byte-exact format carrying discovery queries/replies and
// file-transfer requests between peers, over both UDP and TCP.
//
// Wire layout (little bits are spelled out here rather than left to a
// generic struct codec, because the format is small, fixed, and every byte
// is load-bearing for interop with the rest of the GroundLift family):
//
//	offset  size  field
//	0       1     magic byte 1 ('G')
//	1       1     magic byte 2 ('L')
//	2       1     type byte ('D' discovery, 'F' file request)
//	3       1     reserved / separator = 0x00
//	4       2     total length, network byte order
//	6       8     unique_peer_id
//	14      3     device_type
//	17      1     reserved / separator = 0x00
//	18      1     hostname length N (1..255)
//	19      N     hostname bytes
//	19+N    ...   type-specific payload
//
// File-request payload:
//
//	offset+0   2   transfer_port, network byte order
//	offset+2   8   file_size, network byte order
//	offset+10  2   base_name length M
//	offset+12  M   base_name bytes
package wire

import (
	"encoding/binary"
	"fmt"

	glerrors "github.com/nathanpc/groundlift/internal/errors"
	"github.com/nathanpc/groundlift/internal/identity"
)

// Kind distinguishes the control-message variants.
type Kind byte

const (
	// KindInvalid is the sentinel Parse returns when a datagram fails
	// validation.
	KindInvalid Kind = 0
	// KindDiscovery is a header-only discovery query or reply.
	KindDiscovery Kind = 'D'
	// KindFileRequest carries a transfer offer.
	KindFileRequest Kind = 'F'
)

const (
	magic1 = 'G'
	magic2 = 'L'

	offsetMagic1    = 0
	offsetMagic2    = 1
	offsetType      = 2
	offsetSep1      = 3
	offsetLength    = 4
	offsetPeerID    = 6
	offsetDevice    = 14
	offsetSep2      = 17
	offsetHostLen   = 18
	offsetHostname  = 19
	headerPeekBytes = 6 // enough to read magic/type/separator/length

	// minTotalLength is the floor a validated header's declared
	// total_length must meet. It is deliberately smaller than the fixed
	// header (19 bytes + hostname); it only bounds the six peeked bytes.
	minTotalLength = 6
)

// Message is the in-memory representation of a control message, tagged by
// Kind. Every variant carries the sender's identity.
type Message struct {
	Kind     Kind
	Identity identity.Identity

	// FileRequest payload. Zero for Discovery messages.
	TransferPort uint16
	FileName     string
	FileSize     uint64
}

// HeaderValid reports whether the first six bytes of buf form a valid
// control-message header: magic bytes "GL", a type byte in {'D', 'F'}, a
// zero separator at offset 3, and a declared total length of at least 6.
func HeaderValid(buf []byte) bool {
	if len(buf) < headerPeekBytes {
		return false
	}
	if buf[offsetMagic1] != magic1 || buf[offsetMagic2] != magic2 {
		return false
	}
	switch Kind(buf[offsetType]) {
	case KindDiscovery, KindFileRequest:
	default:
		return false
	}
	if buf[offsetSep1] != 0x00 {
		return false
	}
	total := binary.BigEndian.Uint16(buf[offsetLength : offsetLength+2])
	return total >= minTotalLength
}

// TotalLength reads the declared total length out of a buffer that has
// already passed HeaderValid. Callers peek six bytes to learn this length
// before reading the full framed message.
func TotalLength(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[offsetLength : offsetLength+2])
}

// Parse decodes a fully-buffered control message. buf must contain at least
// TotalLength(buf) bytes; callers are expected to have already read that
// many bytes off the wire (UDP: one recv; TCP: read-until-full).
//
// On any validation failure, Parse returns a Message with Kind ==
// KindInvalid alongside a *errors.ProtocolError describing the reason. The
// caller discards the datagram/connection and continues.
func Parse(buf []byte) (Message, error) {
	if !HeaderValid(buf) {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "invalid header"}
	}

	total := int(TotalLength(buf))
	if total > len(buf) {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "truncated message"}
	}
	buf = buf[:total]

	if len(buf) < offsetHostname {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "truncated before hostname length"}
	}

	if buf[offsetSep2] != 0x00 {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "malformed identity separator"}
	}

	hostLen := int(buf[offsetHostLen])
	if hostLen < 1 || hostLen > identity.MaxHostnameLen {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "hostname length out of range"}
	}
	payloadOffset := offsetHostname + hostLen
	if payloadOffset > len(buf) {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "hostname runs past buffer end"}
	}

	var id identity.Identity
	copy(id.PeerID[:], buf[offsetPeerID:offsetPeerID+identity.PeerIDLen])
	copy(id.DeviceType[:], buf[offsetDevice:offsetDevice+identity.DeviceTypeLen])
	for _, b := range id.DeviceType {
		if b < 0x20 || b > 0x7e {
			return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "device_type not printable"}
		}
	}
	id.Hostname = string(buf[offsetHostname:payloadOffset])

	msg := Message{Kind: Kind(buf[offsetType]), Identity: id}

	switch msg.Kind {
	case KindDiscovery:
		return msg, nil
	case KindFileRequest:
		return parseFileRequestPayload(msg, buf[payloadOffset:])
	default:
		// HeaderValid already constrained the type byte; unreachable.
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "unknown type byte"}
	}
}

func parseFileRequestPayload(msg Message, payload []byte) (Message, error) {
	const fixedLen = 12 // transfer_port(2) + file_size(8) + base_name_len(2)
	if len(payload) < fixedLen {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "truncated file-request payload"}
	}

	msg.TransferPort = binary.BigEndian.Uint16(payload[0:2])
	msg.FileSize = binary.BigEndian.Uint64(payload[2:10])
	nameLen := int(binary.BigEndian.Uint16(payload[10:12]))
	if nameLen == 0 {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "empty base_name"}
	}
	if fixedLen+nameLen > len(payload) {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "base_name runs past buffer end"}
	}
	name := string(payload[fixedLen : fixedLen+nameLen])
	if !isSafeBaseName(name) {
		return Message{Kind: KindInvalid}, &glerrors.ProtocolError{Reason: "base_name contains a path separator"}
	}
	msg.FileName = name
	return msg, nil
}

// isSafeBaseName rejects path separators at the wire layer. The receiver
// additionally sanitizes on disk before creating the destination file; this
// is the first, coarse filter so an obviously hostile name never becomes a
// Message at all.
func isSafeBaseName(name string) bool {
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return false
		}
	}
	return true
}

// Encode serializes msg into its wire form, filling in total_length after
// the payload is built. It runs identity.Identity.Validate on msg.Identity
// first and returns that error if the identity is invalid.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Identity.Validate(); err != nil {
		return nil, err
	}

	hostname := []byte(msg.Identity.Hostname)
	header := make([]byte, offsetHostname+len(hostname))
	header[offsetMagic1] = magic1
	header[offsetMagic2] = magic2
	header[offsetType] = byte(msg.Kind)
	header[offsetSep1] = 0x00
	copy(header[offsetPeerID:], msg.Identity.PeerID[:])
	copy(header[offsetDevice:], msg.Identity.DeviceType[:])
	header[offsetSep2] = 0x00
	header[offsetHostLen] = byte(len(hostname))
	copy(header[offsetHostname:], hostname)

	var payload []byte
	switch msg.Kind {
	case KindDiscovery:
		// no payload
	case KindFileRequest:
		payload = encodeFileRequestPayload(msg)
	default:
		return nil, fmt.Errorf("wire: unknown message kind %v", msg.Kind)
	}

	buf := append(header, payload...)
	total := len(buf)
	if total > int(^uint16(0)) {
		return nil, fmt.Errorf("wire: message too large to frame (%d bytes)", total)
	}
	binary.BigEndian.PutUint16(buf[offsetLength:offsetLength+2], uint16(total))
	return buf, nil
}

func encodeFileRequestPayload(msg Message) []byte {
	name := []byte(msg.FileName)
	payload := make([]byte, 12+len(name))
	binary.BigEndian.PutUint16(payload[0:2], msg.TransferPort)
	binary.BigEndian.PutUint64(payload[2:10], msg.FileSize)
	binary.BigEndian.PutUint16(payload[10:12], uint16(len(name)))
	copy(payload[12:], name)
	return payload
}
