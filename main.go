package main

import (
	"os"

	"github.com/linkstorm/linkstorm/cmd"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

func main() {
	logging.SetupLogger()
	rootCMD := cmd.GetRootCommand()
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}
