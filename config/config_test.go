package config

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/gitzhang10/synchs/sign"
	"github.com/spf13/viper"
)

// TestConfigRoundTrip writes a configuration the way config_gen does
// and reads it back through LoadConfig.
func TestConfigRoundTrip(t *testing.T) {
	privKey, pubKey := sign.GenED25519Keys()
	shares, pubPoly := sign.GenTSKeys(3, 4)
	shareAsBytes, err := sign.EncodeTSPartialKey(shares[0])
	if err != nil {
		t.Fatal(err)
	}
	pubPolyAsBytes, err := sign.EncodeTSPublicKey(pubPoly)
	if err != nil {
		t.Fatal(err)
	}

	viperWrite := viper.New()
	viperWrite.SetConfigFile("config_roundtrip_test.yaml")
	viperWrite.Set("name", "node0")
	viperWrite.Set("nfaulty", 1)
	viperWrite.Set("delta", 0.25)
	viperWrite.Set("max_pool", 10)
	viperWrite.Set("log_level", 3)
	viperWrite.Set("is_faulty", false)
	viperWrite.Set("scheme", "tbls")
	viperWrite.Set("verifier_num", 4)
	viperWrite.Set("privkeyed", hex.EncodeToString(privKey))
	viperWrite.Set("tsshare", hex.EncodeToString(shareAsBytes))
	viperWrite.Set("tspubkey", hex.EncodeToString(pubPolyAsBytes))
	viperWrite.Set("cluster_ips", map[string]string{"node0": "127.0.0.1"})
	viperWrite.Set("peers_p2p_port", map[string]int{"node0": 8000})
	viperWrite.Set("cluster_pubkeyed", map[string]string{"node0": hex.EncodeToString(pubKey)})
	if err := viperWrite.WriteConfig(); err != nil {
		t.Fatal(err)
	}
	defer os.Remove("config_roundtrip_test.yaml")

	config, err := LoadConfig("", "config_roundtrip_test")
	if err != nil {
		t.Fatal(err)
	}

	if config.Name != "node0" {
		t.Errorf("name is %q, want node0", config.Name)
	}
	if config.ReplicaID != 0 {
		t.Errorf("replica id is %d, want 0", config.ReplicaID)
	}
	if config.NFaulty != 1 {
		t.Errorf("nfaulty is %d, want 1", config.NFaulty)
	}
	if config.Delta != 0.25 {
		t.Errorf("delta is %v, want 0.25", config.Delta)
	}
	if config.Scheme != "tbls" {
		t.Errorf("scheme is %q, want tbls", config.Scheme)
	}
	if config.ClusterAddr["node0"] != "127.0.0.1" {
		t.Errorf("cluster address is wrong: %v", config.ClusterAddr)
	}
	if config.ClusterPort["node0"] != 8000 {
		t.Errorf("cluster port is wrong: %v", config.ClusterPort)
	}
	if config.ClusterAddrWithPorts["127.0.0.1:8000"] != 0 {
		t.Errorf("cluster addr with ports is wrong: %v", config.ClusterAddrWithPorts)
	}
	if len(config.PublicKeyMap["node0"]) != len(pubKey) {
		t.Errorf("public key map is wrong: %v", config.PublicKeyMap)
	}

	// the decoded threshold material still signs
	data := []byte("config round trip")
	partial := sign.SignTSPartial(config.TsPrivateKey, data)
	if err := sign.VerifyTSPartial(config.TsPublicKey, data, partial); err != nil {
		t.Errorf("the decoded threshold keys do not verify: %v", err)
	}
}

func TestReplicaIDFromName(t *testing.T) {
	if id := ReplicaIDFromName("node7"); id != 7 {
		t.Errorf("id is %d, want 7", id)
	}
}
