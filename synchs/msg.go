package synchs

import (
	"bytes"
	"fmt"
)

// MsgContext carries what deserialization needs: the store interning
// parsed blocks, the certificate scheme, and the replica config.
// Messages hold no reference back to the engine.
type MsgContext struct {
	Store  *BlockStore
	Scheme CertScheme
	Config *ReplicaConfig
}

// Proposal carries a block, the quorum cert for its primary parent,
// and optionally the status certificate of a view change.
type Proposal struct {
	Proposer   ReplicaID
	Blk        *Block
	CertPBlk   QuorumCert
	StatusCert []Notify
}

func (p *Proposal) Serialize(buf *bytes.Buffer) {
	writeUint16(buf, uint16(p.Proposer))
	p.Blk.Serialize(buf)
	p.CertPBlk.Serialize(buf)
	if p.StatusCert == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	for i := range p.StatusCert {
		p.StatusCert[i].Serialize(buf)
	}
}

// DeserializeProposal parses a proposal, interning its block into the
// store. When has_status is set, exactly nmajority notifies follow.
func DeserializeProposal(r *bytes.Reader, ctx *MsgContext) (*Proposal, error) {
	p := &Proposal{}
	proposer, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p.Proposer = ReplicaID(proposer)
	blk, err := parseBlock(r, ctx)
	if err != nil {
		return nil, err
	}
	if len(blk.ParentHashes) == 0 {
		return nil, ErrMalformedMessage
	}
	p.Blk = ctx.Store.Add(blk)
	if p.CertPBlk, err = ctx.Scheme.ParseQuorumCert(r); err != nil {
		return nil, err
	}
	hasStatus, err := readByte(r)
	if err != nil {
		return nil, err
	}
	switch hasStatus {
	case 0:
	case 1:
		for i := 0; i < ctx.Config.NMajority; i++ {
			n, err := DeserializeNotify(r, ctx)
			if err != nil {
				return nil, err
			}
			p.StatusCert = append(p.StatusCert, *n)
		}
	default:
		return nil, ErrMalformedMessage
	}
	return p, nil
}

// Verify checks that cert_pblk certifies the primary parent and that
// every bundled notify verifies.
func (p *Proposal) Verify(ctx *MsgContext) bool {
	if p.CertPBlk.ProofTextHash() != VoteProofTextHash(p.Blk.ParentHashes[0]) {
		return false
	}
	if !p.CertPBlk.Verify(ctx.Config) {
		return false
	}
	for i := range p.StatusCert {
		if !p.StatusCert[i].Verify(ctx) {
			return false
		}
	}
	return true
}

func (p *Proposal) String() string {
	status := "no"
	if p.StatusCert != nil {
		status = "yes"
	}
	return fmt.Sprintf("<proposal rid=%d blk=%s status=%s>", p.Proposer, p.Blk.BlockHash(), status)
}

// Vote is one replica's vote for a block, proven by a partial cert
// over the vote proof text.
type Vote struct {
	Voter   ReplicaID
	BlkHash Hash
	Cert    PartCert
}

func (v *Vote) Serialize(buf *bytes.Buffer) {
	writeUint16(buf, uint16(v.Voter))
	buf.Write(v.BlkHash[:])
	v.Cert.Serialize(buf)
}

func DeserializeVote(r *bytes.Reader, ctx *MsgContext) (*Vote, error) {
	v := &Vote{}
	voter, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	v.Voter = ReplicaID(voter)
	if v.BlkHash, err = hashFromReader(r); err != nil {
		return nil, err
	}
	if v.Cert, err = ctx.Scheme.ParsePartCert(r); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vote) Verify(ctx *MsgContext) bool {
	if v.Cert.Signer() != v.Voter {
		return false
	}
	if v.Cert.ProofTextHash() != VoteProofTextHash(v.BlkHash) {
		return false
	}
	return v.Cert.Verify(ctx.Config)
}

func (v *Vote) String() string {
	return fmt.Sprintf("<vote rid=%d blk=%s>", v.Voter, v.BlkHash)
}

// Notify communicates a quorum cert for a block; replicas send it to
// hand their highest QC to the next leader during a view change.
type Notify struct {
	BlkHash Hash
	QC      QuorumCert
}

func (n *Notify) Serialize(buf *bytes.Buffer) {
	buf.Write(n.BlkHash[:])
	n.QC.Serialize(buf)
}

func DeserializeNotify(r *bytes.Reader, ctx *MsgContext) (*Notify, error) {
	n := &Notify{}
	var err error
	if n.BlkHash, err = hashFromReader(r); err != nil {
		return nil, err
	}
	if n.QC, err = ctx.Scheme.ParseQuorumCert(r); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Notify) Verify(ctx *MsgContext) bool {
	if n.QC.ProofTextHash() != VoteProofTextHash(n.BlkHash) {
		return false
	}
	return n.QC.Verify(ctx.Config)
}

func (n *Notify) String() string {
	return fmt.Sprintf("<notify blk=%s>", n.BlkHash)
}

// Blame is a signed complaint against the leader of a view.
type Blame struct {
	Blamer ReplicaID
	View   uint32
	Cert   PartCert
}

func (b *Blame) Serialize(buf *bytes.Buffer) {
	writeUint16(buf, uint16(b.Blamer))
	writeUint32(buf, b.View)
	b.Cert.Serialize(buf)
}

func DeserializeBlame(r *bytes.Reader, ctx *MsgContext) (*Blame, error) {
	b := &Blame{}
	blamer, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	b.Blamer = ReplicaID(blamer)
	if b.View, err = readUint32(r); err != nil {
		return nil, err
	}
	if b.Cert, err = ctx.Scheme.ParsePartCert(r); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Blame) Verify(ctx *MsgContext) bool {
	if b.Cert.Signer() != b.Blamer {
		return false
	}
	if b.Cert.ProofTextHash() != BlameProofTextHash(b.View) {
		return false
	}
	return b.Cert.Verify(ctx.Config)
}

func (b *Blame) String() string {
	return fmt.Sprintf("<blame rid=%d view=%d>", b.Blamer, b.View)
}

// BlameNotify aggregates 2f+1 blames for a view; its receipt triggers
// the view change.
type BlameNotify struct {
	View uint32
	QC   QuorumCert
}

func (bn *BlameNotify) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, bn.View)
	bn.QC.Serialize(buf)
}

func DeserializeBlameNotify(r *bytes.Reader, ctx *MsgContext) (*BlameNotify, error) {
	bn := &BlameNotify{}
	var err error
	if bn.View, err = readUint32(r); err != nil {
		return nil, err
	}
	if bn.QC, err = ctx.Scheme.ParseQuorumCert(r); err != nil {
		return nil, err
	}
	return bn, nil
}

func (bn *BlameNotify) Verify(ctx *MsgContext) bool {
	if bn.QC.ProofTextHash() != BlameProofTextHash(bn.View) {
		return false
	}
	return bn.QC.Verify(ctx.Config)
}

func (bn *BlameNotify) String() string {
	return fmt.Sprintf("<blame notify view=%d>", bn.View)
}

// Finality reports one decided command. decision == 1 means committed
// and carries the block hash.
type Finality struct {
	Rid       ReplicaID
	Decision  int8
	CmdIdx    uint32
	CmdHeight uint32
	CmdHash   Hash
	BlkHash   Hash
}

func (f *Finality) Serialize(buf *bytes.Buffer) {
	writeUint16(buf, uint16(f.Rid))
	buf.WriteByte(byte(f.Decision))
	writeUint32(buf, f.CmdIdx)
	writeUint32(buf, f.CmdHeight)
	buf.Write(f.CmdHash[:])
	if f.Decision == 1 {
		buf.Write(f.BlkHash[:])
	}
}

func DeserializeFinality(r *bytes.Reader) (*Finality, error) {
	f := &Finality{}
	rid, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	f.Rid = ReplicaID(rid)
	decision, err := readByte(r)
	if err != nil {
		return nil, err
	}
	f.Decision = int8(decision)
	if f.CmdIdx, err = readUint32(r); err != nil {
		return nil, err
	}
	if f.CmdHeight, err = readUint32(r); err != nil {
		return nil, err
	}
	if f.CmdHash, err = hashFromReader(r); err != nil {
		return nil, err
	}
	if f.Decision == 1 {
		if f.BlkHash, err = hashFromReader(r); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *Finality) String() string {
	return fmt.Sprintf("<fin decision=%d cmd_idx=%d cmd_height=%d cmd=%s blk=%s>",
		f.Decision, f.CmdIdx, f.CmdHeight, f.CmdHash, f.BlkHash)
}
