package synchs

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gitzhang10/synchs/sign"
	"go.dedis.ch/kyber/v3/share"
)

// PartCert is one replica's signature over a proof text (C3). The
// certificate stores the hash of the proof text, never the raw text.
type PartCert interface {
	ProofTextHash() Hash
	Signer() ReplicaID
	Verify(rc *ReplicaConfig) bool
	Serialize(buf *bytes.Buffer)
	Clone() PartCert
}

// QuorumCert aggregates 2f+1 partial certificates over a shared proof
// text. A locally built cert accumulates parts and is finalized by
// Compute; a parsed cert only verifies.
type QuorumCert interface {
	ProofTextHash() Hash
	AddPart(rid ReplicaID, pc PartCert) error
	Compute() error
	Verify(rc *ReplicaConfig) bool
	Serialize(buf *bytes.Buffer)
	Clone() QuorumCert
}

// CertScheme plugs a concrete signature scheme into the engine. The
// engine never touches key material directly.
type CertScheme interface {
	CreatePartCert(proofHash Hash) PartCert
	ParsePartCert(r *bytes.Reader) (PartCert, error)
	CreateQuorumCert(proofHash Hash) QuorumCert
	ParseQuorumCert(r *bytes.Reader) (QuorumCert, error)
}

// The QC over genesis is axiomatic: every replica starts from the same
// genesis, so a certificate referencing it verifies without signatures.
func isGenesisQC(proofHash Hash, rc *ReplicaConfig) bool {
	return proofHash == VoteProofTextHash(rc.GenesisHash())
}

/* === per-replica ED25519 scheme === */

// Ed25519Scheme signs each partial certificate with the replica's own
// ED25519 key; a quorum cert is the set of partial signatures.
type Ed25519Scheme struct {
	id      ReplicaID
	privKey ed25519.PrivateKey
}

func NewEd25519Scheme(id ReplicaID, privKey ed25519.PrivateKey) *Ed25519Scheme {
	return &Ed25519Scheme{id: id, privKey: privKey}
}

type partCertEd25519 struct {
	proofHash Hash
	signer    ReplicaID
	sig       []byte
}

func (pc *partCertEd25519) ProofTextHash() Hash { return pc.proofHash }
func (pc *partCertEd25519) Signer() ReplicaID   { return pc.signer }

func (pc *partCertEd25519) Verify(rc *ReplicaConfig) bool {
	pubKey, err := rc.GetPubKey(pc.signer)
	if err != nil {
		return false
	}
	ok, err := sign.VerifySignEd25519(pubKey, pc.proofHash[:], pc.sig)
	return err == nil && ok
}

func (pc *partCertEd25519) Serialize(buf *bytes.Buffer) {
	buf.Write(pc.proofHash[:])
	writeUint16(buf, uint16(pc.signer))
	buf.Write(pc.sig)
}

func (pc *partCertEd25519) Clone() PartCert {
	sig := make([]byte, len(pc.sig))
	copy(sig, pc.sig)
	return &partCertEd25519{proofHash: pc.proofHash, signer: pc.signer, sig: sig}
}

type quorumCertEd25519 struct {
	proofHash Hash
	sigs      map[ReplicaID][]byte
}

func (qc *quorumCertEd25519) ProofTextHash() Hash { return qc.proofHash }

func (qc *quorumCertEd25519) AddPart(rid ReplicaID, pc PartCert) error {
	if pc.ProofTextHash() != qc.proofHash {
		return fmt.Errorf("partial cert proves a different text: %w", ErrInvalidCertificate)
	}
	part, ok := pc.(*partCertEd25519)
	if !ok {
		return fmt.Errorf("partial cert is of a foreign scheme: %w", ErrInvalidCertificate)
	}
	qc.sigs[rid] = part.sig
	return nil
}

func (qc *quorumCertEd25519) Compute() error { return nil }

func (qc *quorumCertEd25519) Verify(rc *ReplicaConfig) bool {
	if isGenesisQC(qc.proofHash, rc) {
		return true
	}
	valid := 0
	for rid, sig := range qc.sigs {
		pubKey, err := rc.GetPubKey(rid)
		if err != nil {
			return false
		}
		if ok, err := sign.VerifySignEd25519(pubKey, qc.proofHash[:], sig); err != nil || !ok {
			return false
		}
		valid++
	}
	return valid >= rc.QuorumSize()
}

func (qc *quorumCertEd25519) Serialize(buf *bytes.Buffer) {
	buf.Write(qc.proofHash[:])
	rids := make([]int, 0, len(qc.sigs))
	for rid := range qc.sigs {
		rids = append(rids, int(rid))
	}
	sort.Ints(rids)
	writeUint32(buf, uint32(len(rids)))
	for _, rid := range rids {
		writeUint16(buf, uint16(rid))
		buf.Write(qc.sigs[ReplicaID(rid)])
	}
}

func (qc *quorumCertEd25519) Clone() QuorumCert {
	sigs := make(map[ReplicaID][]byte, len(qc.sigs))
	for rid, sig := range qc.sigs {
		s := make([]byte, len(sig))
		copy(s, sig)
		sigs[rid] = s
	}
	return &quorumCertEd25519{proofHash: qc.proofHash, sigs: sigs}
}

func (s *Ed25519Scheme) CreatePartCert(proofHash Hash) PartCert {
	return &partCertEd25519{
		proofHash: proofHash,
		signer:    s.id,
		sig:       sign.SignEd25519(s.privKey, proofHash[:]),
	}
}

func (s *Ed25519Scheme) ParsePartCert(r *bytes.Reader) (PartCert, error) {
	proofHash, err := hashFromReader(r)
	if err != nil {
		return nil, err
	}
	rid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, ed25519.SignatureSize)
	if err := readFull(r, sig); err != nil {
		return nil, err
	}
	return &partCertEd25519{proofHash: proofHash, signer: ReplicaID(rid), sig: sig}, nil
}

func (s *Ed25519Scheme) CreateQuorumCert(proofHash Hash) QuorumCert {
	return &quorumCertEd25519{proofHash: proofHash, sigs: make(map[ReplicaID][]byte)}
}

func (s *Ed25519Scheme) ParseQuorumCert(r *bytes.Reader) (QuorumCert, error) {
	proofHash, err := hashFromReader(r)
	if err != nil {
		return nil, err
	}
	num, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(num) > maxParents {
		return nil, ErrMalformedMessage
	}
	sigs := make(map[ReplicaID][]byte, num)
	for i := uint32(0); i < num; i++ {
		rid, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		sig := make([]byte, ed25519.SignatureSize)
		if err := readFull(r, sig); err != nil {
			return nil, err
		}
		sigs[ReplicaID(rid)] = sig
	}
	return &quorumCertEd25519{proofHash: proofHash, sigs: sigs}, nil
}

/* === threshold scheme (kyber tbls) === */

// TSScheme builds partial certificates as tbls signature shares and
// quorum certs by recovering the intact threshold signature from 2f+1
// shares. The share index of a replica equals its ReplicaID.
type TSScheme struct {
	id       ReplicaID
	priShare *share.PriShare
	conf     *ReplicaConfig
}

func NewTSScheme(id ReplicaID, priShare *share.PriShare, conf *ReplicaConfig) *TSScheme {
	return &TSScheme{id: id, priShare: priShare, conf: conf}
}

type partCertTS struct {
	proofHash Hash
	signer    ReplicaID
	sigShare  []byte
}

func (pc *partCertTS) ProofTextHash() Hash { return pc.proofHash }
func (pc *partCertTS) Signer() ReplicaID   { return pc.signer }

func (pc *partCertTS) Verify(rc *ReplicaConfig) bool {
	if len(pc.sigShare) < 2 {
		return false
	}
	if binary.BigEndian.Uint16(pc.sigShare[:2]) != uint16(pc.signer) {
		return false
	}
	return sign.VerifyTSPartial(rc.TSPubPoly, pc.proofHash[:], pc.sigShare) == nil
}

func (pc *partCertTS) Serialize(buf *bytes.Buffer) {
	buf.Write(pc.proofHash[:])
	writeUint16(buf, uint16(pc.signer))
	writeUint32(buf, uint32(len(pc.sigShare)))
	buf.Write(pc.sigShare)
}

func (pc *partCertTS) Clone() PartCert {
	s := make([]byte, len(pc.sigShare))
	copy(s, pc.sigShare)
	return &partCertTS{proofHash: pc.proofHash, signer: pc.signer, sigShare: s}
}

type quorumCertTS struct {
	proofHash Hash
	intact    []byte
	shares    map[ReplicaID][]byte
	scheme    *TSScheme
}

func (qc *quorumCertTS) ProofTextHash() Hash { return qc.proofHash }

func (qc *quorumCertTS) AddPart(rid ReplicaID, pc PartCert) error {
	if pc.ProofTextHash() != qc.proofHash {
		return fmt.Errorf("partial cert proves a different text: %w", ErrInvalidCertificate)
	}
	part, ok := pc.(*partCertTS)
	if !ok {
		return fmt.Errorf("partial cert is of a foreign scheme: %w", ErrInvalidCertificate)
	}
	qc.shares[rid] = part.sigShare
	return nil
}

func (qc *quorumCertTS) Compute() error {
	if qc.scheme == nil {
		return fmt.Errorf("parsed quorum cert cannot aggregate: %w", ErrInvalidCertificate)
	}
	conf := qc.scheme.conf
	if len(qc.shares) < conf.QuorumSize() {
		return fmt.Errorf("%d shares below the quorum: %w", len(qc.shares), ErrInvalidCertificate)
	}
	partials := make([][]byte, 0, len(qc.shares))
	for _, s := range qc.shares {
		partials = append(partials, s)
	}
	qc.intact = sign.AssembleIntactTSPartial(partials, conf.TSPubPoly, qc.proofHash[:], conf.QuorumSize(), conf.Size())
	return nil
}

func (qc *quorumCertTS) Verify(rc *ReplicaConfig) bool {
	if isGenesisQC(qc.proofHash, rc) {
		return true
	}
	if len(qc.intact) == 0 {
		return false
	}
	ok, err := sign.VerifyTS(rc.TSPubPoly, qc.proofHash[:], qc.intact)
	return err == nil && ok
}

func (qc *quorumCertTS) Serialize(buf *bytes.Buffer) {
	buf.Write(qc.proofHash[:])
	writeUint32(buf, uint32(len(qc.intact)))
	buf.Write(qc.intact)
}

func (qc *quorumCertTS) Clone() QuorumCert {
	intact := make([]byte, len(qc.intact))
	copy(intact, qc.intact)
	return &quorumCertTS{proofHash: qc.proofHash, intact: intact, scheme: qc.scheme}
}

func (s *TSScheme) CreatePartCert(proofHash Hash) PartCert {
	return &partCertTS{
		proofHash: proofHash,
		signer:    s.id,
		sigShare:  sign.SignTSPartial(s.priShare, proofHash[:]),
	}
}

func (s *TSScheme) ParsePartCert(r *bytes.Reader) (PartCert, error) {
	proofHash, err := hashFromReader(r)
	if err != nil {
		return nil, err
	}
	rid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(size) > maxSigSize {
		return nil, ErrMalformedMessage
	}
	sigShare := make([]byte, size)
	if err := readFull(r, sigShare); err != nil {
		return nil, err
	}
	return &partCertTS{proofHash: proofHash, signer: ReplicaID(rid), sigShare: sigShare}, nil
}

func (s *TSScheme) CreateQuorumCert(proofHash Hash) QuorumCert {
	return &quorumCertTS{proofHash: proofHash, shares: make(map[ReplicaID][]byte), scheme: s}
}

func (s *TSScheme) ParseQuorumCert(r *bytes.Reader) (QuorumCert, error) {
	proofHash, err := hashFromReader(r)
	if err != nil {
		return nil, err
	}
	size, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(size) > maxSigSize {
		return nil, ErrMalformedMessage
	}
	intact := make([]byte, size)
	if size > 0 {
		if err := readFull(r, intact); err != nil {
			return nil, err
		}
	}
	return &quorumCertTS{proofHash: proofHash, intact: intact, scheme: s}, nil
}

const maxSigSize = 4096
