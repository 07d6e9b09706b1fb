package synchs

import (
	"crypto/ed25519"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// ProtocolHost receives the outputs of the state machine. All calls
// happen on the engine goroutine; implementations must not reenter the
// engine from the same stack.
type ProtocolHost interface {
	DoBroadcastProposal(prop *Proposal)
	DoBroadcastVote(vote *Vote)
	DoBroadcastNotify(notify *Notify)
	DoBroadcastBlame(blame *Blame)
	DoBroadcastBlameNotify(bn *BlameNotify)
	DoDecide(fin *Finality)
	SetCommitTimer(blk *Block, seconds float64)
	StopCommitTimer(height uint32)
}

// Core is the replica state machine. It owns the block DAG frontier,
// the commit frontier and the view counter, and must only be driven
// from a single goroutine; messages reach it already parsed and
// verified.
type Core struct {
	id ReplicaID

	b0      *Block
	bqc     *Block
	bexec   *Block
	vheight uint32
	nheight uint32
	view    uint32
	tails   map[Hash]*Block

	statusCert       []Notify
	collectingStatus bool
	negVote          bool

	store  *BlockStore
	conf   *ReplicaConfig
	scheme CertScheme
	host   ProtocolHost
	logger hclog.Logger

	qcWaiting              map[Hash]*Promise
	proposeWaiting         *Promise
	receiveProposalWaiting *Promise
	bqcUpdateWaiting       *Promise

	pendingQCs    map[Hash]QuorumCert
	pendingVoters map[Hash]map[ReplicaID]struct{}
	blames        map[uint32]map[ReplicaID]PartCert
	blameNotified map[uint32]bool
}

func NewCore(id ReplicaID, conf *ReplicaConfig, scheme CertScheme, host ProtocolHost, logger hclog.Logger) *Core {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "synchs-core",
			Output: hclog.DefaultOutput,
			Level:  hclog.Info,
		})
	}
	b0 := newGenesis()
	conf.genesis = b0.hash
	b0.selfQC = scheme.CreateQuorumCert(VoteProofTextHash(b0.hash))
	c := &Core{
		id:                     id,
		b0:                     b0,
		bqc:                    b0,
		bexec:                  b0,
		tails:                  make(map[Hash]*Block),
		store:                  NewBlockStore(),
		conf:                   conf,
		scheme:                 scheme,
		host:                   host,
		logger:                 logger,
		qcWaiting:              make(map[Hash]*Promise),
		proposeWaiting:         NewPromise(),
		receiveProposalWaiting: NewPromise(),
		bqcUpdateWaiting:       NewPromise(),
		pendingQCs:             make(map[Hash]QuorumCert),
		pendingVoters:          make(map[Hash]map[ReplicaID]struct{}),
		blames:                 make(map[uint32]map[ReplicaID]PartCert),
		blameNotified:          make(map[uint32]bool),
	}
	c.store.Add(b0)
	c.tails[b0.hash] = b0
	return c
}

// OnInit fixes the fault bound and the synchrony bound. Call once
// before any other input.
func (c *Core) OnInit(nfaulty int, delta float64) {
	c.conf.NMajority = nfaulty + 1
	c.conf.Delta = delta
}

// AddReplica registers a peer; only valid before the protocol runs.
func (c *Core) AddReplica(rid ReplicaID, addr string, pubKey ed25519.PublicKey) {
	c.conf.AddReplica(rid, addr, pubKey)
}

// MsgContext returns the context messages are parsed against.
func (c *Core) MsgContext() *MsgContext {
	return &MsgContext{Store: c.store, Scheme: c.scheme, Config: c.conf}
}

/* === ingress === */

// OnDeliverBlk admits a block whose parents and QC reference are
// already present. Invalid blocks are dropped and false is returned.
func (c *Core) OnDeliverBlk(blk *Block) bool {
	if blk.hash != blk.computeHash() {
		c.logger.Warn("block self-hash mismatch", "blk", blk.hash)
		return false
	}
	blk = c.store.Add(blk)
	if blk.delivered {
		return true
	}
	if len(blk.ParentHashes) == 0 {
		c.logger.Warn("block without parents", "blk", blk.hash)
		return false
	}
	parents := make([]*Block, 0, len(blk.ParentHashes))
	for _, ph := range blk.ParentHashes {
		p := c.store.Find(ph)
		if p == nil || !p.delivered {
			c.logger.Warn("block parent is not delivered", "blk", blk.hash, "parent", ph)
			return false
		}
		parents = append(parents, p)
	}
	if blk.QC != nil {
		if blk.QC.ProofTextHash() != VoteProofTextHash(blk.QCRefHash) {
			c.logger.Warn("embedded cert does not match its reference", "blk", blk.hash)
			return false
		}
		ref := c.store.Find(blk.QCRefHash)
		if ref == nil {
			c.logger.Warn("block referenced by embedded cert is not delivered", "blk", blk.hash)
			return false
		}
		blk.qcRef = ref
	}
	blk.parents = parents
	blk.height = parents[0].height + 1
	blk.delivered = true
	for _, p := range parents {
		delete(c.tails, p.hash)
	}
	c.tails[blk.hash] = blk
	c.logger.Debug("block delivered", "blk", blk.hash, "height", blk.height)
	return true
}

// OnReceiveProposal applies the safety and voting rule to a verified
// proposal whose block is delivered.
func (c *Core) OnReceiveProposal(prop *Proposal) {
	blk := c.store.Find(prop.Blk.hash)
	if blk == nil || !blk.delivered {
		c.logger.Error("proposal for an undelivered block", "prop", prop)
		return
	}
	c.update(blk)
	opinion := false
	if blk.height > c.vheight && c.extends(blk, c.bqc) {
		opinion = !c.negVote
	}
	c.logger.Debug("proposal received", "prop", prop, "opinion", opinion)
	if opinion {
		c.vheight = blk.height
		cert := c.scheme.CreatePartCert(VoteProofTextHash(blk.hash))
		c.host.DoBroadcastVote(&Vote{Voter: c.id, BlkHash: blk.hash, Cert: cert})
		c.host.SetCommitTimer(blk, 2*c.conf.Delta)
	}
	c.resolveAndRenew(&c.receiveProposalWaiting, prop)
}

// OnReceiveVote aggregates a verified vote into the pending quorum
// cert of its block. Votes for blocks already certified are discarded.
func (c *Core) OnReceiveVote(vote *Vote) {
	blk := c.store.Find(vote.BlkHash)
	if blk == nil {
		c.logger.Debug("vote for an unknown block", "vote", vote)
		return
	}
	if blk.selfQC != nil {
		return
	}
	qc, ok := c.pendingQCs[vote.BlkHash]
	if !ok {
		qc = c.scheme.CreateQuorumCert(VoteProofTextHash(vote.BlkHash))
		c.pendingQCs[vote.BlkHash] = qc
		c.pendingVoters[vote.BlkHash] = make(map[ReplicaID]struct{})
	}
	voters := c.pendingVoters[vote.BlkHash]
	if _, dup := voters[vote.Voter]; dup {
		return
	}
	if err := qc.AddPart(vote.Voter, vote.Cert); err != nil {
		c.logger.Warn("vote cannot join the quorum cert", "vote", vote, "error", err)
		return
	}
	voters[vote.Voter] = struct{}{}
	if len(voters) < c.conf.QuorumSize() {
		return
	}
	if err := qc.Compute(); err != nil {
		c.logger.Error("quorum cert aggregation failed", "blk", vote.BlkHash, "error", err)
		return
	}
	delete(c.pendingQCs, vote.BlkHash)
	delete(c.pendingVoters, vote.BlkHash)
	c.logger.Debug("quorum cert formed", "blk", vote.BlkHash, "height", blk.height)
	c.adoptQC(blk, qc)
}

// OnReceiveNotify adopts the carried quorum cert and collects the
// notify as status for the next proposal.
func (c *Core) OnReceiveNotify(notify *Notify) {
	if c.collectingStatus && len(c.statusCert) < c.conf.NMajority {
		c.statusCert = append(c.statusCert, *notify)
	}
	blk := c.store.Find(notify.BlkHash)
	if blk == nil {
		c.logger.Debug("notify for an unknown block", "notify", notify)
		return
	}
	c.adoptQC(blk, notify.QC)
}

// OnBlame emits a blame against the current leader of the given view.
// Driven by the PaceMaker when it perceives a stalled view.
func (c *Core) OnBlame(view uint32) {
	cert := c.scheme.CreatePartCert(BlameProofTextHash(view))
	blame := &Blame{Blamer: c.id, View: view, Cert: cert}
	c.host.DoBroadcastBlame(blame)
	c.OnReceiveBlame(blame)
}

// OnReceiveBlame counts a verified blame; 2f+1 distinct blamers for
// the same view aggregate into a BlameNotify.
func (c *Core) OnReceiveBlame(blame *Blame) {
	if blame.View < c.view {
		return
	}
	m, ok := c.blames[blame.View]
	if !ok {
		m = make(map[ReplicaID]PartCert)
		c.blames[blame.View] = m
	}
	if _, dup := m[blame.Blamer]; dup {
		return
	}
	m[blame.Blamer] = blame.Cert
	c.logger.Debug("blame received", "blame", blame, "count", len(m))
	if len(m) < c.conf.QuorumSize() || c.blameNotified[blame.View] {
		return
	}
	c.blameNotified[blame.View] = true
	qc := c.scheme.CreateQuorumCert(BlameProofTextHash(blame.View))
	for rid, cert := range m {
		if err := qc.AddPart(rid, cert); err != nil {
			c.logger.Warn("blame cert cannot join the quorum cert", "error", err)
		}
	}
	if err := qc.Compute(); err != nil {
		c.logger.Error("blame quorum cert aggregation failed", "view", blame.View, "error", err)
		return
	}
	bn := &BlameNotify{View: blame.View, QC: qc}
	c.host.DoBroadcastBlameNotify(bn)
	c.OnReceiveBlameNotify(bn)
}

// OnReceiveBlameNotify advances the view past the blamed one and
// reports the replica's highest quorum cert as a status message.
func (c *Core) OnReceiveBlameNotify(bn *BlameNotify) {
	if bn.View < c.view {
		return
	}
	c.view = bn.View + 1
	c.statusCert = nil
	c.collectingStatus = true
	for view := range c.blames {
		if view <= bn.View {
			delete(c.blames, view)
		}
	}
	c.nheight = c.bqc.height
	c.host.DoBroadcastNotify(&Notify{BlkHash: c.bqc.hash, QC: c.bqc.selfQC})
	c.logger.Info("view change", "replica", c.id, "view", c.view)
}

// OnCommitTimeout marks locally observed synchrony for the block and
// reattempts the commit rule.
func (c *Core) OnCommitTimeout(blk *Block) {
	blk.timerUp = true
	c.checkCommit(c.bqc)
}

/* === egress === */

// OnPropose builds a block on the given parents, delivers it locally,
// and broadcasts it. The status certificate collected since the last
// view change is attached exactly once.
func (c *Core) OnPropose(cmds []Hash, parents []*Block, extra []byte) *Block {
	if len(parents) == 0 {
		panic(ErrPreconditionViolation)
	}
	for _, p := range parents {
		if found := c.store.Find(p.hash); found == nil || !found.delivered {
			panic(ErrPreconditionViolation)
		}
	}
	blk := NewBlock(parents, cmds, c.bqc.hash, c.bqc.selfQC, extra)
	if !c.OnDeliverBlk(blk) {
		c.logger.Error("own proposal was rejected", "blk", blk.hash)
		return nil
	}
	var status []Notify
	if len(c.statusCert) == c.conf.NMajority {
		status = c.statusCert
	}
	prop := &Proposal{
		Proposer:   c.id,
		Blk:        blk,
		CertPBlk:   c.parentQC(parents[0]),
		StatusCert: status,
	}
	c.statusCert = nil
	c.collectingStatus = false
	c.OnReceiveProposal(prop)
	c.host.DoBroadcastProposal(prop)
	c.resolveAndRenew(&c.proposeWaiting, prop)
	return blk
}

func (c *Core) parentQC(parent *Block) QuorumCert {
	if parent.selfQC != nil {
		return parent.selfQC
	}
	return c.scheme.CreateQuorumCert(VoteProofTextHash(parent.hash))
}

// Prune drops every stored block below bexec.height - staleness,
// committed or on an abandoned fork, from the store and returns how
// many were dropped.
func (c *Core) Prune(staleness uint32) int {
	if c.bexec.height <= staleness {
		return 0
	}
	below := c.bexec.height - staleness
	for h, b := range c.tails {
		if b.height < below {
			delete(c.tails, h)
		}
	}
	return c.store.Prune(below)
}

/* === protocol rules === */

// update advances the QC chain with the quorum cert embedded in blk.
func (c *Core) update(blk *Block) {
	if blk.qcRef == nil {
		return
	}
	c.adoptQC(blk.qcRef, blk.QC)
}

// adoptQC attaches a quorum cert to its block, advances bqc when the
// block is higher, and runs the commit check.
func (c *Core) adoptQC(blk *Block, qc QuorumCert) {
	if blk.selfQC == nil && qc != nil {
		blk.selfQC = qc
	}
	if p, ok := c.qcWaiting[blk.hash]; ok {
		delete(c.qcWaiting, blk.hash)
		p.Resolve(blk)
	}
	if blk.height > c.bqc.height {
		c.bqc = blk
		c.onBQCUpdate(blk)
	}
	c.checkCommit(blk)
}

func (c *Core) onBQCUpdate(blk *Block) {
	c.logger.Debug("bqc advanced", "blk", blk.hash, "height", blk.height)
	c.resolveAndRenew(&c.bqcUpdateWaiting, blk)
	if c.nheight < c.bqc.height {
		c.nheight = c.bqc.height
		c.host.DoBroadcastNotify(&Notify{BlkHash: c.bqc.hash, QC: c.bqc.selfQC})
	}
}

// checkCommit walks from the certified block down to bexec and
// executes the ancestors deepest first while their commit timer has
// fired and they stay on the chain of bqc; it stops at the first
// block that fails either condition.
func (c *Core) checkCommit(blk *Block) {
	var chain []*Block
	b := blk
	for b.height > c.bexec.height {
		chain = append(chain, b)
		if b = b.Parent(); b == nil {
			c.logger.Error("certified chain is broken", "blk", blk.hash)
			return
		}
	}
	if b != c.bexec {
		c.logger.Error("certified chain conflicts with the executed chain",
			"blk", blk.hash, "bexec", c.bexec.hash)
		return
	}
	for i := len(chain) - 1; i >= 0; i-- {
		cb := chain[i]
		if !cb.timerUp || !c.extends(c.bqc, cb) {
			break
		}
		c.execute(cb)
	}
}

func (c *Core) execute(blk *Block) {
	for i, cmd := range blk.Cmds {
		c.host.DoDecide(&Finality{
			Rid:       c.id,
			Decision:  1,
			CmdIdx:    uint32(i),
			CmdHeight: blk.height,
			CmdHash:   cmd,
			BlkHash:   blk.hash,
		})
	}
	c.host.StopCommitTimer(blk.height)
	c.bexec = blk
	c.logger.Info("commit block", "replica", c.id, "blk", blk.hash, "height", blk.height)
}

// extends reports whether blk reaches target by walking primary
// parents without descending below the target's height.
func (c *Core) extends(blk, target *Block) bool {
	b := blk
	for b != nil && b.height > target.height {
		b = b.Parent()
	}
	return b == target
}

/* === PaceMaker surfaces === */

// AsyncQCFinish resolves when the block has a quorum cert.
func (c *Core) AsyncQCFinish(blk *Block) *Promise {
	if blk.selfQC != nil {
		return ResolvedPromise(blk)
	}
	p, ok := c.qcWaiting[blk.hash]
	if !ok {
		p = NewPromise()
		c.qcWaiting[blk.hash] = p
	}
	return p
}

// AsyncWaitProposal resolves on the next outbound proposal.
func (c *Core) AsyncWaitProposal() *Promise { return c.proposeWaiting }

// AsyncWaitReceiveProposal resolves on the next processed proposal.
func (c *Core) AsyncWaitReceiveProposal() *Promise { return c.receiveProposalWaiting }

// AsyncBQCUpdate resolves on the next bqc advance.
func (c *Core) AsyncBQCUpdate() *Promise { return c.bqcUpdateWaiting }

func (c *Core) resolveAndRenew(p **Promise, value interface{}) {
	resolved := *p
	*p = NewPromise()
	resolved.Resolve(value)
}

/* === accessors === */

func (c *Core) GetGenesis() *Block        { return c.b0 }
func (c *Core) GetBQC() *Block            { return c.bqc }
func (c *Core) GetBExec() *Block          { return c.bexec }
func (c *Core) GetConfig() *ReplicaConfig { return c.conf }
func (c *Core) GetID() ReplicaID          { return c.id }
func (c *Core) VHeight() uint32           { return c.vheight }
func (c *Core) NHeight() uint32           { return c.nheight }
func (c *Core) View() uint32              { return c.view }
func (c *Core) Store() *BlockStore        { return c.store }

// SetNegVote forces the vote opinion to false; some PaceMakers use the
// resulting silence as negative quorum evidence.
func (c *Core) SetNegVote(negVote bool) { c.negVote = negVote }

// GetTails returns the current DAG leaves ordered by height.
func (c *Core) GetTails() []*Block {
	tails := make([]*Block, 0, len(c.tails))
	for _, b := range c.tails {
		tails = append(tails, b)
	}
	for i := 1; i < len(tails); i++ {
		for j := i; j > 0 && tails[j-1].height > tails[j].height; j-- {
			tails[j-1], tails[j] = tails[j], tails[j-1]
		}
	}
	return tails
}

func (c *Core) String() string {
	return fmt.Sprintf("<synchs bqc=%s bqc.height=%d bexec=%s vheight=%d view=%d>",
		c.bqc.hash, c.bqc.height, c.bexec.hash, c.vheight, c.view)
}
