package cmd

import (
	"github.com/spf13/cobra"

	"github.com/linkstorm/linkstorm/cmd/queue"
	"github.com/linkstorm/linkstorm/cmd/report"
	"github.com/linkstorm/linkstorm/cmd/root"
	"github.com/linkstorm/linkstorm/cmd/version"
)

func GetRootCommand() *cobra.Command {
	rootCMD := root.GetCommand()
	rootCMD.AddCommand(queue.GetCommand())
	rootCMD.AddCommand(report.GetCommand())
	rootCMD.AddCommand(version.VersionCMD)
	return rootCMD
}
