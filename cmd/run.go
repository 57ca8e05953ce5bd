package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	btc_guard "github.com/evdatsion/btc-chain-guard"
	"github.com/evdatsion/btc-chain-guard/log"
	"github.com/evdatsion/btc-chain-guard/rpc"
)

var (
	confFile string
)

func init() {
	flag.StringVar(&confFile, "conf-file", "./conf.json", "configuration file for btc chain guard")
}

func main() {
	flag.Parse()

	conf, err := btc_guard.NewGuardConfig(confFile)
	if err != nil {
		// logging is not configured yet at this point
		fmt.Fprintf(os.Stderr, "failed to new a config: %v\n", err)
		os.Exit(1)
	}
	log.InitLog(conf.LogLevel, os.Stdout)
	if conf.SleepTime > 0 {
		rpc.SleepTime = time.Duration(conf.SleepTime)
	}

	g, err := btc_guard.NewChainGuard(conf)
	if err != nil {
		log.Fatalf("failed to new a chain guard: %v", err)
		os.Exit(1)
	}
	go g.Watch()
	go g.Report()

	select {}
}
