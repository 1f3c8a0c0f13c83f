package main

import (
	"os"

	"github.com/patrickjuchli/couch/v2/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
