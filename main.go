package main

import (
	"github.com/sw33tLie/xtmscope/cmd"
)

func main() {
	cmd.Execute()
}
