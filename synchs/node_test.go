package synchs

import (
	"crypto/ed25519"
	"strconv"
	"testing"
	"time"

	"github.com/gitzhang10/synchs/config"
	"github.com/gitzhang10/synchs/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNodes(t *testing.T, scheme string, basePort int) []*Node {
	t.Helper()
	names := make([]string, 4)
	clusterAddr := make(map[string]string, 4)
	clusterPort := make(map[string]int, 4)
	clusterAddrWithPorts := make(map[string]uint16, 4)
	for i := 0; i < 4; i++ {
		name := "node" + strconv.Itoa(i)
		names[i] = name
		clusterAddr[name] = "127.0.0.1"
		clusterPort[name] = basePort + i*10
		clusterAddrWithPorts["127.0.0.1:"+strconv.Itoa(clusterPort[name])] = uint16(i)
	}

	// create the ED25519 keys
	privKeys := make([]ed25519.PrivateKey, 4)
	pubKeys := make([]ed25519.PublicKey, 4)
	for i := 0; i < 4; i++ {
		privKeys[i], pubKeys[i] = sign.GenED25519Keys()
	}
	pubKeyMap := make(map[string]ed25519.PublicKey, 4)
	for i := 0; i < 4; i++ {
		pubKeyMap[names[i]] = pubKeys[i]
	}

	// create the threshold keys
	shares, pubPoly := sign.GenTSKeys(3, 4)

	// create configs and nodes
	nodes := make([]*Node, 4)
	for i := 0; i < 4; i++ {
		conf := config.New(names[i], 1, 0.05, 10, clusterAddr, clusterPort,
			clusterAddrWithPorts, pubKeyMap, privKeys[i], pubPoly, shares[i],
			scheme, 5, false, 2)
		nodes[i] = NewNode(conf)
		require.NoError(t, nodes[i].StartP2PListen())
	}
	for i := 0; i < 4; i++ {
		go func(n *Node) {
			if err := n.EstablishP2PConns(); err != nil {
				t.Log("establish:", err)
			}
		}(nodes[i])
	}
	time.Sleep(time.Second)
	for i := 0; i < 4; i++ {
		go nodes[i].MainLoop()
	}
	return nodes
}

func closeNodes(nodes []*Node) {
	for _, n := range nodes {
		n.Close()
	}
}

func TestFourNodesCommit(t *testing.T) {
	nodes := setupNodes(t, "ed25519", 8000)
	defer closeNodes(nodes)

	cmds := []Hash{cmdHash(1)}
	nodes[0].Propose(cmds, nil)
	time.Sleep(500 * time.Millisecond)
	nodes[0].Propose([]Hash{cmdHash(2)}, nil)

	for i, node := range nodes {
		select {
		case fin := <-node.DecideChan():
			assert.Equal(t, int8(1), fin.Decision, "replica %d", i)
			assert.Equal(t, uint32(1), fin.CmdHeight, "replica %d", i)
			assert.Equal(t, cmds[0], fin.CmdHash, "replica %d", i)
		case <-time.After(5 * time.Second):
			t.Fatalf("replica %d did not decide", i)
		}
	}
}

func TestFourNodesCommitWithThresholdScheme(t *testing.T) {
	nodes := setupNodes(t, "tbls", 8100)
	defer closeNodes(nodes)

	cmds := []Hash{cmdHash(3)}
	nodes[0].Propose(cmds, nil)
	time.Sleep(500 * time.Millisecond)
	nodes[0].Propose([]Hash{cmdHash(4)}, nil)

	for i, node := range nodes {
		select {
		case fin := <-node.DecideChan():
			assert.Equal(t, uint32(1), fin.CmdHeight, "replica %d", i)
			assert.Equal(t, cmds[0], fin.CmdHash, "replica %d", i)
		case <-time.After(10 * time.Second):
			t.Fatalf("replica %d did not decide", i)
		}
	}
}

func TestFourNodesViewChange(t *testing.T) {
	nodes := setupNodes(t, "ed25519", 8200)
	defer closeNodes(nodes)

	// leader 0 is silent; the other replicas blame view 0
	for i := 1; i < 4; i++ {
		core := nodes[i].Core()
		nodes[i].Submit(func() { core.OnBlame(0) })
	}

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; i < 4; i++ {
		for {
			view := make(chan uint32, 1)
			core := nodes[i].Core()
			nodes[i].Submit(func() { view <- core.View() })
			if v := <-view; v == 1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("replica %d did not change the view", i)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
}
