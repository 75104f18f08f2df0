package main

import (
	"os"

	"github.com/cppla/minicomment/config"
	"github.com/cppla/minicomment/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	if err := newRootCmd(cfg).Execute(); err != nil {
		utils.Sugar.Errorf("minicomment: %v", err)
		os.Exit(1)
	}
}
