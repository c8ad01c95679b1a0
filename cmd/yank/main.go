package main

import (
	"log"
	"os"

	"github.com/dmitrijs2005/yank/internal/cli"
)

func main() {
	if err := cli.NewApp().Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}
