package main

import (
	"os"

	"github.com/bpbradley/locket/pkg/exitcode"
)

func main() {
	cmd := newRootCmd()
	err := cmd.Execute()
	os.Exit(exitcode.ForError(err))
}
