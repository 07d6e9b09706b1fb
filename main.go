package main

import (
	"fmt"
	"time"

	"github.com/gitzhang10/synchs/config"
	"github.com/gitzhang10/synchs/synchs"
)

var conf *config.Config
var err error

func init() {
	conf, err = config.LoadConfig("", "config")
	if err != nil {
		panic(err)
	}
}

func main() {
	node := synchs.NewNode(conf)
	if err = node.StartP2PListen(); err != nil {
		panic(err)
	}
	// wait for each node to start
	time.Sleep(time.Second * 15)
	if err = node.EstablishP2PConns(); err != nil {
		panic(err)
	}
	fmt.Println("node starts the replica core!")
	go func() {
		for fin := range node.DecideChan() {
			fmt.Println("decided:", fin)
		}
	}()
	node.MainLoop()
}
