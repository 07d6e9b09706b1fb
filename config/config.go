/*
Package config implements the type to pass the arguments to the node
and implements a function to load the parameters from a configuration file.
*/
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/gitzhang10/synchs/sign"
	"github.com/spf13/viper"
	"go.dedis.ch/kyber/v3/share"
)

// Config defines a type to describe the configuration.
type Config struct {
	Name                 string
	ReplicaID            uint16
	NFaulty              int
	Delta                float64           // synchrony bound in seconds
	MaxPool              int
	ClusterAddr          map[string]string // map from name to address
	ClusterPort          map[string]int    // map from name to port
	ClusterAddrWithPorts map[string]uint16 // map from addr:port to replica id
	PublicKeyMap         map[string]ed25519.PublicKey
	PrivateKey           ed25519.PrivateKey
	TsPublicKey          *share.PubPoly
	TsPrivateKey         *share.PriShare
	Scheme               string // "ed25519" or "tbls"
	LogLevel             int
	IsFaulty             bool
	VerifierNum          int
}

// New creates a new variable of type Config for test
func New(name string, nfaulty int, delta float64, maxPool int, clusterAddr map[string]string,
	clusterPort map[string]int, clusterAddrWithPorts map[string]uint16,
	publicKeyMap map[string]ed25519.PublicKey, privateKey ed25519.PrivateKey,
	tsPublicKey *share.PubPoly, tsPrivateKey *share.PriShare, scheme string,
	logLevel int, isFaulty bool, verifierNum int) *Config {
	conf := &Config{
		Name:                 name,
		NFaulty:              nfaulty,
		Delta:                delta,
		MaxPool:              maxPool,
		ClusterAddr:          clusterAddr,
		ClusterPort:          clusterPort,
		ClusterAddrWithPorts: clusterAddrWithPorts,
		PublicKeyMap:         publicKeyMap,
		PrivateKey:           privateKey,
		TsPublicKey:          tsPublicKey,
		TsPrivateKey:         tsPrivateKey,
		Scheme:               scheme,
		LogLevel:             logLevel,
		IsFaulty:             isFaulty,
		VerifierNum:          verifierNum,
	}
	conf.ReplicaID = ReplicaIDFromName(name)
	return conf
}

// ReplicaIDFromName extracts the numeric replica id from a node name
// of the form "node<id>".
func ReplicaIDFromName(name string) uint16 {
	id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
	if err != nil {
		panic(err)
	}
	return uint16(id)
}

// LoadConfig loads configuration files by package viper.
func LoadConfig(configPrefix, configName string) (*Config, error) {
	viperConfig := viper.New()

	// for environment variables
	viperConfig.SetEnvPrefix(configPrefix)
	viperConfig.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperConfig.SetEnvKeyReplacer(replacer)
	viperConfig.SetConfigName(configName)
	viperConfig.AddConfigPath("./")
	err := viperConfig.ReadInConfig()
	if err != nil {
		return nil, err
	}

	privKeyEDAsString := viperConfig.GetString("privkeyed")
	privKeyED, err := hex.DecodeString(privKeyEDAsString)
	if err != nil {
		return nil, err
	}

	tsPubKeyAsString := viperConfig.GetString("tspubkey")
	tsPubKeyAsBytes, err := hex.DecodeString(tsPubKeyAsString)
	if err != nil {
		return nil, err
	}
	tsPubKey, err := sign.DecodeTSPublicKey(tsPubKeyAsBytes)
	if err != nil {
		return nil, err
	}

	tsShareAsString := viperConfig.GetString("tsshare")
	tsShareAsBytes, err := hex.DecodeString(tsShareAsString)
	if err != nil {
		return nil, err
	}
	tsShareKey, err := sign.DecodeTSPartialKey(tsShareAsBytes)
	if err != nil {
		return nil, err
	}

	conf := &Config{
		Name:         viperConfig.GetString("name"),
		NFaulty:      viperConfig.GetInt("nfaulty"),
		Delta:        viperConfig.GetFloat64("delta"),
		MaxPool:      viperConfig.GetInt("max_pool"),
		PrivateKey:   privKeyED,
		TsPublicKey:  tsPubKey,
		TsPrivateKey: tsShareKey,
		Scheme:       viperConfig.GetString("scheme"),
		LogLevel:     viperConfig.GetInt("log_level"),
		IsFaulty:     viperConfig.GetBool("is_faulty"),
		VerifierNum:  viperConfig.GetInt("verifier_num"),
	}
	conf.ReplicaID = ReplicaIDFromName(conf.Name)

	peersP2PPortMapString := viperConfig.GetStringMap("peers_p2p_port")
	peersIPsMapString := viperConfig.GetStringMap("cluster_ips")
	pubKeyMapString := viperConfig.GetStringMap("cluster_pubkeyed")
	pubKeyMap := make(map[string]ed25519.PublicKey, len(pubKeyMapString))
	clusterAddr := make(map[string]string, len(pubKeyMapString))
	clusterPort := make(map[string]int, len(pubKeyMapString))
	clusterAddrWithPorts := make(map[string]uint16, len(pubKeyMapString))
	for name, pkAsInterface := range pubKeyMapString {
		clusterPort[name] = peersP2PPortMapString[name].(int)
		clusterAddr[name] = peersIPsMapString[name].(string)
		if pkAsString, ok := pkAsInterface.(string); ok {
			pubKey, err := hex.DecodeString(pkAsString)
			if err != nil {
				return nil, err
			}
			pubKeyMap[name] = pubKey
		} else {
			return nil, errors.New("public key in the config file cannot be decoded correctly")
		}
		addrWithPort := peersIPsMapString[name].(string) + ":" + strconv.Itoa(peersP2PPortMapString[name].(int))
		clusterAddrWithPorts[addrWithPort] = ReplicaIDFromName(name)
	}

	conf.PublicKeyMap = pubKeyMap
	conf.ClusterPort = clusterPort
	conf.ClusterAddr = clusterAddr
	conf.ClusterAddrWithPorts = clusterAddrWithPorts
	return conf, nil
}
