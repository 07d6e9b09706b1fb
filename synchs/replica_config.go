package synchs

import (
	"crypto/ed25519"
	"fmt"

	"go.dedis.ch/kyber/v3/share"
)

// ReplicaInfo describes one peer of the protocol run.
type ReplicaInfo struct {
	ID     ReplicaID
	Addr   string
	PubKey ed25519.PublicKey
}

// ReplicaConfig is the fixed replica set of one protocol run (C2).
// Built by repeated AddReplica calls before the engine starts and
// immutable afterwards.
type ReplicaConfig struct {
	Replicas  map[ReplicaID]*ReplicaInfo
	NMajority int
	Delta     float64

	// TSPubPoly verifies threshold certificates; only the threshold
	// scheme reads it.
	TSPubPoly *share.PubPoly

	genesis Hash
}

func NewReplicaConfig() *ReplicaConfig {
	return &ReplicaConfig{Replicas: make(map[ReplicaID]*ReplicaInfo)}
}

// AddReplica registers a peer. Must not be called once the engine runs.
func (rc *ReplicaConfig) AddReplica(rid ReplicaID, addr string, pubKey ed25519.PublicKey) {
	rc.Replicas[rid] = &ReplicaInfo{ID: rid, Addr: addr, PubKey: pubKey}
}

// GetPubKey returns the ED25519 public key of a peer.
func (rc *ReplicaConfig) GetPubKey(rid ReplicaID) (ed25519.PublicKey, error) {
	info, ok := rc.Replicas[rid]
	if !ok {
		return nil, fmt.Errorf("replica %d is unknown: %w", rid, ErrInvalidCertificate)
	}
	return info.PubKey, nil
}

// Size returns the number of replicas.
func (rc *ReplicaConfig) Size() int {
	return len(rc.Replicas)
}

// QuorumSize is the 2f+1 threshold for quorum certificates, derived
// from nmajority = f+1.
func (rc *ReplicaConfig) QuorumSize() int {
	return 2*rc.NMajority - 1
}

// GenesisHash is the hash of the genesis block of this run, installed
// by the core at construction.
func (rc *ReplicaConfig) GenesisHash() Hash {
	return rc.genesis
}
