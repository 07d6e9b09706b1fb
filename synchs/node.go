package synchs

import (
	"bytes"
	"crypto/ed25519"
	"strconv"
	"time"

	"github.com/gitzhang10/synchs/config"
	"github.com/gitzhang10/synchs/conn"
	"github.com/gitzhang10/synchs/sign"
	"github.com/hashicorp/go-hclog"
)

// Node is the host around the core: it owns the engine goroutine, the
// transport, the verification pool, the commit-timer wheel and the
// decision channel. Everything the core mutates runs inside MainLoop.
type Node struct {
	name   string
	id     ReplicaID
	conf   *config.Config
	rc     *ReplicaConfig
	scheme CertScheme
	core   *Core
	trans  *conn.NetworkTransport
	vpool  *VeriPool
	logger hclog.Logger

	events       chan func()
	decideCh     chan *Finality
	timers       map[uint32][]*time.Timer
	pendingProps map[Hash][]*Proposal // waiting for the block under the key
	dropped      map[string]uint64

	clusterAddrWithPorts map[string]uint16
	pubKeys              map[ReplicaID]ed25519.PublicKey
	privKey              ed25519.PrivateKey
	isFaulty             bool
	shutdownCh           chan struct{}
}

func NewNode(conf *config.Config) *Node {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "synchs-node",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	})
	n := &Node{
		name:                 conf.Name,
		id:                   ReplicaID(conf.ReplicaID),
		conf:                 conf,
		logger:               logger,
		events:               make(chan func(), 1024),
		decideCh:             make(chan *Finality, 4096),
		timers:               make(map[uint32][]*time.Timer),
		pendingProps:         make(map[Hash][]*Proposal),
		dropped:              make(map[string]uint64),
		clusterAddrWithPorts: conf.ClusterAddrWithPorts,
		pubKeys:              make(map[ReplicaID]ed25519.PublicKey),
		privKey:              conf.PrivateKey,
		isFaulty:             conf.IsFaulty,
		shutdownCh:           make(chan struct{}),
	}
	n.rc = NewReplicaConfig()
	n.rc.TSPubPoly = conf.TsPublicKey
	if conf.Scheme == "tbls" {
		n.scheme = NewTSScheme(n.id, conf.TsPrivateKey, n.rc)
	} else {
		n.scheme = NewEd25519Scheme(n.id, conf.PrivateKey)
	}
	n.core = NewCore(n.id, n.rc, n.scheme, n, logger.Named("core"))
	n.core.OnInit(conf.NFaulty, conf.Delta)
	for name, pubKey := range conf.PublicKeyMap {
		rid := ReplicaID(config.ReplicaIDFromName(name))
		addr := conf.ClusterAddr[name] + ":" + strconv.Itoa(conf.ClusterPort[name])
		n.core.AddReplica(rid, addr, pubKey)
		n.pubKeys[rid] = pubKey
	}
	n.vpool = NewVeriPool(conf.VerifierNum, logger.Named("veripool"))
	return n
}

// Core exposes the state machine; only touch it from events posted
// through Submit.
func (n *Node) Core() *Core { return n.core }

// DecideChan delivers finality decisions to the application.
func (n *Node) DecideChan() <-chan *Finality { return n.decideCh }

// Submit schedules a closure on the engine goroutine; this is how a
// PaceMaker drives the core.
func (n *Node) Submit(ev func()) {
	select {
	case n.events <- ev:
	case <-n.shutdownCh:
	}
}

// Propose submits a proposal extending the current highest tail.
func (n *Node) Propose(cmds []Hash, extra []byte) {
	n.Submit(func() {
		tails := n.core.GetTails()
		if len(tails) == 0 {
			return
		}
		parents := []*Block{tails[len(tails)-1]}
		for i := len(tails) - 2; i >= 0; i-- {
			parents = append(parents, tails[i])
		}
		n.core.OnPropose(cmds, parents, extra)
	})
}

// StartP2PListen starts the node to listen for P2P connection.
func (n *Node) StartP2PListen() error {
	var err error
	n.trans, err = conn.NewTCPTransport(":"+strconv.Itoa(n.conf.ClusterPort[n.name]), 30*time.Second,
		nil, n.conf.MaxPool)
	if err != nil {
		return err
	}
	return nil
}

// EstablishP2PConns establishes P2P connections with other nodes.
func (n *Node) EstablishP2PConns() error {
	if n.trans == nil {
		return ErrPreconditionViolation
	}
	for addrWithPort := range n.clusterAddrWithPorts {
		connect, err := n.trans.GetConn(addrWithPort)
		if err != nil {
			return err
		}
		if err = n.trans.ReturnConn(connect); err != nil {
			return err
		}
		n.logger.Debug("connection has been established", "sender", n.name, "receiver", addrWithPort)
	}
	return nil
}

// MainLoop is the engine goroutine. All core mutations happen here.
func (n *Node) MainLoop() {
	msgCh := n.trans.MsgChan()
	for {
		select {
		case <-n.shutdownCh:
			return
		case ev := <-n.events:
			ev()
		case envelope := <-msgCh:
			if n.isFaulty {
				continue
			}
			n.handleEnvelope(envelope)
		}
	}
}

// Close shuts the node down.
func (n *Node) Close() {
	select {
	case <-n.shutdownCh:
		return
	default:
	}
	close(n.shutdownCh)
	n.vpool.Close()
	if n.trans != nil {
		_ = n.trans.Close()
	}
}

// IsFaultyNode reports whether this node is configured to be faulty.
func (n *Node) IsFaultyNode() bool { return n.isFaulty }

/* === ingress plumbing === */

func (n *Node) handleEnvelope(envelope conn.Envelope) {
	ctx := n.core.MsgContext()
	r := bytes.NewReader(envelope.Payload)
	switch envelope.Tag {
	case ProposalTag:
		prop, err := DeserializeProposal(r, ctx)
		if err != nil {
			n.drop("malformed", err)
			return
		}
		n.verifyThen(envelope, func() bool { return prop.Verify(ctx) },
			func() { n.deliverProposal(prop) })
	case VoteTag:
		vote, err := DeserializeVote(r, ctx)
		if err != nil {
			n.drop("malformed", err)
			return
		}
		n.verifyThen(envelope, func() bool { return vote.Verify(ctx) },
			func() { n.core.OnReceiveVote(vote) })
	case NotifyTag:
		notify, err := DeserializeNotify(r, ctx)
		if err != nil {
			n.drop("malformed", err)
			return
		}
		n.verifyThen(envelope, func() bool { return notify.Verify(ctx) },
			func() { n.core.OnReceiveNotify(notify) })
	case BlameTag:
		blame, err := DeserializeBlame(r, ctx)
		if err != nil {
			n.drop("malformed", err)
			return
		}
		n.verifyThen(envelope, func() bool { return blame.Verify(ctx) },
			func() { n.core.OnReceiveBlame(blame) })
	case BlameNotifyTag:
		bn, err := DeserializeBlameNotify(r, ctx)
		if err != nil {
			n.drop("malformed", err)
			return
		}
		n.verifyThen(envelope, func() bool { return bn.Verify(ctx) },
			func() { n.core.OnReceiveBlameNotify(bn) })
	default:
		n.drop("unknown_tag", nil)
	}
}

// verifyThen runs the envelope and certificate checks on the
// verification pool and, on success, reenters the engine loop with
// apply. The engine never blocks on a verification.
func (n *Node) verifyThen(envelope conn.Envelope, check VeriTask, apply func()) {
	task := func() bool {
		if !n.verifyEnvelope(envelope) {
			return false
		}
		return check()
	}
	n.vpool.Submit(task).Then(func(verdict interface{}) {
		ok, _ := verdict.(bool)
		ev := apply
		if !ok {
			ev = func() { n.drop("invalid_cert", ErrInvalidCertificate) }
		}
		select {
		case n.events <- ev:
		case <-n.shutdownCh:
		}
	})
}

func (n *Node) verifyEnvelope(envelope conn.Envelope) bool {
	pubKey, ok := n.pubKeys[ReplicaID(envelope.Sender)]
	if !ok {
		return false
	}
	valid, err := sign.VerifySignEd25519(pubKey, envelope.Payload, envelope.Sig)
	return err == nil && valid
}

// deliverProposal hands the proposal's block to the core once its
// primary parent and QC reference are delivered; out-of-order
// proposals wait under the missing hash.
func (n *Node) deliverProposal(prop *Proposal) {
	blk := prop.Blk
	if parent := n.core.Store().Find(blk.ParentHashes[0]); parent == nil || !parent.Delivered() {
		n.pendingProps[blk.ParentHashes[0]] = append(n.pendingProps[blk.ParentHashes[0]], prop)
		return
	}
	if blk.QC != nil {
		if ref := n.core.Store().Find(blk.QCRefHash); ref == nil || !ref.Delivered() {
			n.pendingProps[blk.QCRefHash] = append(n.pendingProps[blk.QCRefHash], prop)
			return
		}
	}
	if !n.core.OnDeliverBlk(blk) {
		n.drop("invalid_entity", ErrInvalidEntity)
		return
	}
	n.core.OnReceiveProposal(prop)
	n.flushPending(blk.BlockHash())
}

func (n *Node) flushPending(h Hash) {
	props, ok := n.pendingProps[h]
	if !ok {
		return
	}
	delete(n.pendingProps, h)
	for _, prop := range props {
		n.deliverProposal(prop)
	}
}

func (n *Node) drop(kind string, err error) {
	n.dropped[kind]++
	n.logger.Debug("message dropped", "kind", kind, "count", n.dropped[kind], "error", err)
}

// DropCount reports how many messages of the kind were dropped.
func (n *Node) DropCount(kind string) uint64 { return n.dropped[kind] }

/* === ProtocolHost === */

func (n *Node) DoBroadcastProposal(prop *Proposal) {
	var buf bytes.Buffer
	prop.Serialize(&buf)
	n.broadcast(ProposalTag, buf.Bytes())
}

func (n *Node) DoBroadcastVote(vote *Vote) {
	var buf bytes.Buffer
	vote.Serialize(&buf)
	n.broadcast(VoteTag, buf.Bytes())
	n.loopback(func() { n.core.OnReceiveVote(vote) })
}

func (n *Node) DoBroadcastNotify(notify *Notify) {
	var buf bytes.Buffer
	notify.Serialize(&buf)
	n.broadcast(NotifyTag, buf.Bytes())
	n.loopback(func() { n.core.OnReceiveNotify(notify) })
}

// loopback feeds the replica's own vote or notify back into the core
// on a later engine turn; proposals, blames and blame notifies are
// already self-applied by the core.
func (n *Node) loopback(ev func()) {
	select {
	case n.events <- ev:
	default:
		n.drop("loopback_overflow", nil)
	}
}

func (n *Node) DoBroadcastBlame(blame *Blame) {
	var buf bytes.Buffer
	blame.Serialize(&buf)
	n.broadcast(BlameTag, buf.Bytes())
}

func (n *Node) DoBroadcastBlameNotify(bn *BlameNotify) {
	var buf bytes.Buffer
	bn.Serialize(&buf)
	n.broadcast(BlameNotifyTag, buf.Bytes())
}

func (n *Node) DoDecide(fin *Finality) {
	select {
	case n.decideCh <- fin:
	default:
		n.drop("decide_overflow", nil)
	}
}

func (n *Node) SetCommitTimer(blk *Block, seconds float64) {
	t := time.AfterFunc(time.Duration(seconds*float64(time.Second)), func() {
		select {
		case n.events <- func() { n.core.OnCommitTimeout(blk) }:
		case <-n.shutdownCh:
		}
	})
	n.timers[blk.Height()] = append(n.timers[blk.Height()], t)
}

func (n *Node) StopCommitTimer(height uint32) {
	for h, ts := range n.timers {
		if h <= height {
			for _, t := range ts {
				t.Stop()
			}
			delete(n.timers, h)
		}
	}
}

// broadcast sends the payload to every other replica, signed with the
// node's ED25519 key.
func (n *Node) broadcast(tag uint8, payload []byte) {
	sig := sign.SignEd25519(n.privKey, payload)
	for addrWithPort, rid := range n.clusterAddrWithPorts {
		if ReplicaID(rid) == n.id {
			continue
		}
		netConn, err := n.trans.GetConn(addrWithPort)
		if err != nil {
			n.logger.Error("fail to connect a peer", "peer", addrWithPort, "error", err)
			continue
		}
		if err = conn.SendMsg(netConn, tag, payload, uint16(n.id), sig); err != nil {
			n.logger.Error("fail to send a message", "peer", addrWithPort, "error", err)
			continue
		}
		if err = n.trans.ReturnConn(netConn); err != nil {
			n.logger.Error("fail to return the connection", "peer", addrWithPort, "error", err)
		}
	}
}
