// Package main is the main entry point of the application
package main

import (
	"log"
	"os"

	"github.com/kfatehi/matrix-puppet-slack/cmd"
)

func main() {
	if err := cmd.New().Run(os.Args); err != nil {
		log.Fatalln(err.Error())
	}
}
