package cmd

import (
	"github.com/achilleasa/castor/log"
	"github.com/urfave/cli"
)

var logger = log.New("castor")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}
