// slicectl is the command line client of cslicerd
package main

import (
	"context"
	"os"

	"github.com/ComputerNetworks-UFRGS/Aurora/internal/cli"
	log "github.com/sirupsen/logrus"
)

func main() {
	a := &app{
		server: "http://localhost:18000/",
		ctx:    context.Background(),
		in:     cli.Input(os.Stdin),
		out:    os.Stdout,
	}
	if err := newRoot(a).Execute(); err != nil {
		log.WithField("error", err).Fatal("command failed")
	}
}
