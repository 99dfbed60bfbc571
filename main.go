package main

import (
	"github.com/datachainlab/substrate-bridge-relayer/cmd"
)

func main() {
	cmd.Execute()
}
