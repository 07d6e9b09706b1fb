package synchs

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sync"
)

// Block is one node of the DAG. The first parent is the primary
// parent; height is one above it. The embedded QC (if any) certifies
// the block named by QCRefHash. The self hash commits to the referenced
// block hash inside the QC, never to its signature bytes.
type Block struct {
	ParentHashes []Hash
	Cmds         []Hash
	QCRefHash    Hash
	QC           QuorumCert
	Extra        []byte

	hash      Hash
	height    uint32
	parents   []*Block
	qcRef     *Block
	selfQC    QuorumCert
	delivered bool
	timerUp   bool
}

// NewBlock builds a block from resolved parents. The caller owns the
// invariant that parents is non-empty and all parents are delivered.
func NewBlock(parents []*Block, cmds []Hash, qcRefHash Hash, qc QuorumCert, extra []byte) *Block {
	if len(parents) == 0 {
		panic(ErrPreconditionViolation)
	}
	b := &Block{
		Cmds:      cmds,
		QCRefHash: qcRefHash,
		QC:        qc,
		Extra:     extra,
		parents:   parents,
		height:    parents[0].height + 1,
	}
	for _, p := range parents {
		b.ParentHashes = append(b.ParentHashes, p.hash)
	}
	b.hash = b.computeHash()
	return b
}

func newGenesis() *Block {
	b := &Block{delivered: true, timerUp: true}
	b.hash = b.computeHash()
	return b
}

func (b *Block) Height() uint32      { return b.height }
func (b *Block) BlockHash() Hash     { return b.hash }
func (b *Block) Delivered() bool     { return b.delivered }
func (b *Block) SelfQC() QuorumCert  { return b.selfQC }
func (b *Block) QCRef() *Block       { return b.qcRef }

// Parent returns the resolved primary parent, nil for genesis.
func (b *Block) Parent() *Block {
	if len(b.parents) == 0 {
		return nil
	}
	return b.parents[0]
}

func (b *Block) String() string {
	return fmt.Sprintf("<blk hash=%s height=%d>", b.hash, b.height)
}

// computeHash serializes the content with the embedded QC reduced to
// the hash of the block it references.
func (b *Block) computeHash() Hash {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(b.ParentHashes)))
	for _, h := range b.ParentHashes {
		buf.Write(h[:])
	}
	writeUint32(&buf, uint32(len(b.Cmds)))
	for _, c := range b.Cmds {
		buf.Write(c[:])
	}
	if b.QC != nil {
		buf.WriteByte(1)
		buf.Write(b.QCRefHash[:])
	} else {
		buf.WriteByte(0)
	}
	writeUint32(&buf, uint32(len(b.Extra)))
	buf.Write(b.Extra)
	return sha256.Sum256(buf.Bytes())
}

// Serialize writes the wire form of the block.
func (b *Block) Serialize(buf *bytes.Buffer) {
	writeUint32(buf, uint32(len(b.ParentHashes)))
	for _, h := range b.ParentHashes {
		buf.Write(h[:])
	}
	writeUint32(buf, uint32(len(b.Cmds)))
	for _, c := range b.Cmds {
		buf.Write(c[:])
	}
	if b.QC != nil {
		buf.WriteByte(1)
		buf.Write(b.QCRefHash[:])
		b.QC.Serialize(buf)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(buf, uint32(len(b.Extra)))
	buf.Write(b.Extra)
}

func parseBlock(r *bytes.Reader, ctx *MsgContext) (*Block, error) {
	b := &Block{}
	nparents, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(nparents) > maxParents {
		return nil, ErrMalformedMessage
	}
	for i := uint32(0); i < nparents; i++ {
		h, err := hashFromReader(r)
		if err != nil {
			return nil, err
		}
		b.ParentHashes = append(b.ParentHashes, h)
	}
	ncmds, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(ncmds) > maxCmds {
		return nil, ErrMalformedMessage
	}
	for i := uint32(0); i < ncmds; i++ {
		h, err := hashFromReader(r)
		if err != nil {
			return nil, err
		}
		b.Cmds = append(b.Cmds, h)
	}
	hasQC, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if hasQC == 1 {
		if b.QCRefHash, err = hashFromReader(r); err != nil {
			return nil, err
		}
		if b.QC, err = ctx.Scheme.ParseQuorumCert(r); err != nil {
			return nil, err
		}
	} else if hasQC != 0 {
		return nil, ErrMalformedMessage
	}
	extraLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(extraLen) > maxExtra {
		return nil, ErrMalformedMessage
	}
	b.Extra = make([]byte, extraLen)
	if extraLen > 0 {
		if err := readFull(r, b.Extra); err != nil {
			return nil, err
		}
	}
	b.hash = b.computeHash()
	return b, nil
}

// Field bounds for wire parsing.
const (
	maxParents = 1024
	maxCmds    = 1 << 20
	maxExtra   = 1 << 20
)

// BlockStore is the content-addressed store owning the canonical copy
// of every block (C1). Mutated only on the engine goroutine; readable
// from anywhere.
type BlockStore struct {
	lock   sync.RWMutex
	blocks map[Hash]*Block
}

func NewBlockStore() *BlockStore {
	return &BlockStore{blocks: make(map[Hash]*Block)}
}

// Add interns the block. Inserting an equal block returns the existing
// reference.
func (s *BlockStore) Add(b *Block) *Block {
	s.lock.Lock()
	defer s.lock.Unlock()
	if existing, ok := s.blocks[b.hash]; ok {
		return existing
	}
	s.blocks[b.hash] = b
	return b
}

// Find returns the block with the given hash, or nil.
func (s *BlockStore) Find(h Hash) *Block {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.blocks[h]
}

// Prune drops every block below the given height and returns how many
// were dropped.
func (s *BlockStore) Prune(below uint32) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	pruned := 0
	for h, b := range s.blocks {
		if b.height < below {
			delete(s.blocks, h)
			pruned++
		}
	}
	return pruned
}

// Len reports how many blocks are stored.
func (s *BlockStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.blocks)
}
