/*
Package main in the directory config_gen implements a tool to read configuration from a template,
and generate customized configuration files for each node.
The generated configuration file particularly contains the public/private keys for TS and ED25519.
*/
package main

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gitzhang10/synchs/sign"
	"github.com/spf13/viper"
)

func judgeWhetherInSlice(i int, b []int) bool {
	for _, v := range b {
		if i == v {
			return true
		}
	}
	return false
}

func generateRandomNumber(nodeNum int, faultyNum int) []int {
	var nums []int
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for len(nums) < faultyNum {
		num := r.Intn(nodeNum)
		// discard duplicates
		if !judgeWhetherInSlice(num, nums) {
			nums = append(nums, num)
		}
	}
	return nums
}

func main() {
	viperRead := viper.New()
	// for environment variables
	viperRead.SetEnvPrefix("")
	viperRead.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viperRead.SetEnvKeyReplacer(replacer)
	viperRead.SetConfigName("config_template")
	viperRead.AddConfigPath("./")
	if err := viperRead.ReadInConfig(); err != nil {
		panic(err)
	}

	// deal with cluster as a string map
	clusterMapInterface := viperRead.GetStringMap("cluster_ips")
	nodeNumber := len(clusterMapInterface)
	clusterMapString := make(map[string]string, nodeNumber)
	for name, addr := range clusterMapInterface {
		addrAsString, ok := addr.(string)
		if !ok {
			panic("cluster_ips in the config file cannot be decoded correctly")
		}
		clusterMapString[name] = addrAsString
	}

	// deal with peers_p2p_port as a string map
	p2pPortMapInterface := viperRead.GetStringMap("peers_p2p_port")
	if nodeNumber != len(p2pPortMapInterface) {
		panic("peers_p2p_port does not match with cluster_ips")
	}
	p2pPortMap := make(map[string]int, nodeNumber)
	for name := range clusterMapString {
		portAsInterface, ok := p2pPortMapInterface[name]
		if !ok {
			panic("peers_p2p_port does not match with cluster_ips")
		}
		portAsInt, ok := portAsInterface.(int)
		if !ok {
			panic("peers_p2p_port contains a non-int value")
		}
		p2pPortMap[name] = portAsInt
	}

	// create the ED25519 keys
	privKeysED25519 := make(map[string]string, nodeNumber)
	pubKeysED25519 := make(map[string]string, nodeNumber)
	for name := range clusterMapString {
		privKeyED, pubKeyED := sign.GenED25519Keys()
		pubKeysED25519[name] = hex.EncodeToString(pubKeyED)
		privKeysED25519[name] = hex.EncodeToString(privKeyED)
	}

	// load protocol parameters
	nfaulty := viperRead.GetInt("nfaulty")
	delta := viperRead.GetFloat64("delta")
	maxPool := viperRead.GetInt("max_pool")
	logLevel := viperRead.GetInt("log_level")
	scheme := viperRead.GetString("scheme")
	verifierNum := viperRead.GetInt("verifier_num")
	faultyNum := viperRead.GetInt("faulty_number")
	faultyNode := generateRandomNumber(nodeNumber, faultyNum)
	fmt.Println("FaultyNodes:", faultyNode)

	// create the threshold signature keys with a 2f+1 threshold
	quorum := 2*nfaulty + 1
	shares, pubPoly := sign.GenTSKeys(quorum, nodeNumber)
	tsPubKeyAsBytes, err := sign.EncodeTSPublicKey(pubPoly)
	if err != nil {
		panic("fail to encode the TSPublicKey")
	}

	// write to configure files
	for name := range clusterMapString {
		replicaID, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			panic("get replicaId failed")
		}
		viperWrite := viper.New()
		viperWrite.SetConfigFile(fmt.Sprintf("%s.yaml", name))
		shareAsBytes, err := sign.EncodeTSPartialKey(shares[replicaID])
		if err != nil {
			panic("fail to encode the share")
		}

		viperWrite.Set("name", name)
		viperWrite.Set("nfaulty", nfaulty)
		viperWrite.Set("delta", delta)
		viperWrite.Set("peers_p2p_port", p2pPortMap)
		viperWrite.Set("cluster_ips", clusterMapString)
		viperWrite.Set("max_pool", maxPool)
		viperWrite.Set("PrivKeyED", privKeysED25519[name])
		viperWrite.Set("cluster_pubkeyed", pubKeysED25519)
		viperWrite.Set("TSShare", hex.EncodeToString(shareAsBytes))
		viperWrite.Set("TSPubKey", hex.EncodeToString(tsPubKeyAsBytes))
		viperWrite.Set("scheme", scheme)
		viperWrite.Set("log_level", logLevel)
		viperWrite.Set("verifier_num", verifierNum)
		viperWrite.Set("is_faulty", judgeWhetherInSlice(replicaID, faultyNode))

		if err := viperWrite.WriteConfig(); err != nil {
			panic(err)
		}
	}
}
