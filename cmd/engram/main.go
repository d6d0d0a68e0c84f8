package main

import (
	"github.com/rajeshgoli/engram/internal/cmd"
)

func main() {
	cmd.Execute()
}
