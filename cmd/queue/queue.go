package queue

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
	"github.com/linkstorm/linkstorm/pkg/cli"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

const longDesc = `
'queue' reads the URLs to download from a file (can use '-' for stdin) and processes them as one session.

URLs are separated by newlines or commas. Blank lines and lines starting with '#' are ignored.
e.g.
# lecture notes
https://example.com/notes/week1.pdf
https://example.com/album, https://example.com/mirror/track.mp3
`

const queueExamples = `
  linkstorm queue urls.txt

  linkstorm queue - < urls.txt

  cat urls.txt | linkstorm queue -
`

func GetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue [flags] <queue-file>",
		Short:   "download every URL listed in a file",
		Long:    longDesc,
		Args:    cobra.ExactArgs(1),
		RunE:    runQueueCMD,
		Example: queueExamples,
	}
	cmd.SetUsageTemplate(cli.UsageTemplate)
	return cmd
}

func runQueueCMD(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	queuePath := args[0]
	file, err := queueFile(queuePath, cmd.InOrStdin())
	if err != nil {
		return err
	}
	defer file.Close()

	urls, err := readQueue(file)
	if err != nil {
		return fmt.Errorf("error processing queue file %s: %w", queuePath, err)
	}
	logger := logging.GetLogger()
	logger.Debug().Str("queue", queuePath).Int("entries", len(urls)).Msg("Queue parsed")

	_, err = cli.RunSession(cmd.Context(), urls, cmd.OutOrStdout())
	return err
}

func queueFile(queuePath string, stdin io.Reader) (io.ReadCloser, error) {
	if queuePath == "-" {
		return io.NopCloser(stdin), nil
	}
	if _, err := os.Stat(queuePath); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("queue file %s does not exist", queuePath)
	}
	file, err := os.Open(queuePath)
	if err != nil {
		return nil, fmt.Errorf("error opening queue file %s: %w", queuePath, err)
	}
	return file, nil
}

// readQueue parses the queue and rejects it as a whole when any entry is not a usable URL.
func readQueue(r io.Reader) ([]string, error) {
	urls, err := linkstorm.ParseQueue(r)
	if err != nil {
		return nil, err
	}
	for _, u := range urls {
		if err := linkstorm.ValidateURL(u); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("queue is empty")
	}
	return urls, nil
}
