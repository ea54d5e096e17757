// Package main is the botlab command.
package main

import (
	"log"
	"os"

	"github.com/saptadeb/botLab-sub001/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
