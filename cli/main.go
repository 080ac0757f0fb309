package main

import (
	"github.com/docease/telecare/cli/cmd"
	"github.com/docease/telecare/cli/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
