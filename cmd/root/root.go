package root

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linkstorm/linkstorm/pkg/cli"
	"github.com/linkstorm/linkstorm/pkg/config"
	"github.com/linkstorm/linkstorm/pkg/optname"
)

const rootLongDesc = `
linkstorm

linkstorm is a concurrent file downloader. It takes a queue of URLs, downloads the ones that point at files directly
and mines the others, pages such as album or mirror listings, for links to files.

Large files are split into byte ranges fetched over parallel connections and assembled in place. Smaller files, and
servers that do not support ranges, use a single connection. Every transfer adapts its read size to the observed
bandwidth, resumes partial files and retries failed attempts with an exponential backoff.

The outcome of every transfer is kept in a small SQLite database in the output folder, see 'linkstorm report'.
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linkstorm [flags] <url>...",
		Short: "linkstorm",
		Long:  rootLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.PersistentStartupProcessFlags()
		},
		RunE: runRootCMD,
		Example: `  linkstorm https://example.com/file.pdf
  linkstorm -o music --min-bitrate 320 https://example.com/album
  linkstorm --clipboard`,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	err := config.AddRootPersistentFlags(cmd)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return cmd
}

func runRootCMD(cmd *cobra.Command, args []string) error {
	urls, err := cli.CollectURLs(args)
	if err != nil {
		return err
	}
	if viper.GetBool(optname.Clipboard) {
		url, err := cli.ClipboardURL()
		if err != nil {
			return err
		}
		if !containsString(urls, url) {
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		return errors.New("no URL given, pass at least one URL or use --clipboard")
	}

	// After we run through the PreRun functions we want to silence usage from being printed
	// on all errors
	cmd.SilenceUsage = true

	log.Info().Strs("urls", urls).
		Str("output", viper.GetString(optname.Output)).
		Msg("Initiating")

	_, err = cli.RunSession(cmd.Context(), urls, cmd.OutOrStdout())
	return err
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
