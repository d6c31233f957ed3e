package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
)

const UsageTemplate = `
Usage:{{if .Runnable}}
{{if .HasAvailableFlags}}{{appendIfNotPresent .UseLine "[flags]"}}{{else}}{{.UseLine}}{{end}}{{end}}{{if .HasAvailableSubCommands}}
{{.CommandPath}} [command]{{end}}{{if gt .Aliases 0}}

Aliases:
{{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if .IsAvailableCommand}}
{{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
{{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

// EnsureFolder creates folder and its parents when missing. It fails when the path exists but is not a
// directory.
func EnsureFolder(folder string) error {
	info, err := os.Stat(folder)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(folder, 0o755); err != nil {
			return fmt.Errorf("failed to create output folder %s: %w", folder, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("failed to inspect output folder %s: %w", folder, err)
	case !info.IsDir():
		return fmt.Errorf("output folder %s exists and is not a directory", folder)
	}
	return nil
}

// CollectURLs validates the URLs given on the command line, keeping the first occurrence of each.
func CollectURLs(args []string) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" || seen[arg] {
			continue
		}
		if err := linkstorm.ValidateURL(arg); err != nil {
			return nil, err
		}
		seen[arg] = true
		urls = append(urls, arg)
	}
	return urls, nil
}
