/*
Package synchs implements the replica core of a synchronous HotStuff
variant with an explicit blame path for view changes. The core is
network-agnostic: it ingests already-parsed protocol messages, keeps
the block DAG and the commit frontier, and reports outbound messages
and decisions through the ProtocolHost interface.
*/
package synchs

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
)

// ReplicaID identifies one replica in the cluster.
type ReplicaID uint16

// Hash is a 256-bit content hash.
type Hash [HashSize]byte

const HashSize = 32

// String returns the first ten hex digits, enough for log lines.
func (h Hash) String() string {
	return hex.EncodeToString(h[:5])
}

func hashFromReader(r io.Reader) (Hash, error) {
	var h Hash
	if _, err := io.ReadFull(r, h[:]); err != nil {
		return h, ErrMalformedMessage
	}
	return h, nil
}

const (
	proofTypeVote  byte = 0x00
	proofTypeBlame byte = 0x01
)

// VoteProofTextHash hashes the canonical proof text of a vote for the
// block with the given hash.
func VoteProofTextHash(blkHash Hash) Hash {
	var text [1 + HashSize]byte
	text[0] = proofTypeVote
	copy(text[1:], blkHash[:])
	return sha256.Sum256(text[:])
}

// BlameProofTextHash hashes the canonical proof text of a blame
// against the given view.
func BlameProofTextHash(view uint32) Hash {
	var text [5]byte
	text[0] = proofTypeBlame
	binary.LittleEndian.PutUint32(text[1:], view)
	return sha256.Sum256(text[:])
}

// Failure classes of the ingress surface. Safety-rule refusals are not
// errors: the handlers simply do not vote.
var (
	ErrMalformedMessage      = errors.New("the message cannot be parsed")
	ErrInvalidEntity         = errors.New("the block is invalid")
	ErrInvalidCertificate    = errors.New("the certificate does not verify")
	ErrPreconditionViolation = errors.New("an undelivered ancestor was supplied")
)

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformedMessage
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformedMessage
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readFull(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return ErrMalformedMessage
	}
	return nil
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, ErrMalformedMessage
	}
	return b[0], nil
}
