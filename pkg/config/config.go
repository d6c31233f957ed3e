package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linkstorm/linkstorm/pkg/logging"
	"github.com/linkstorm/linkstorm/pkg/optname"
)

const (
	EnvPrefix = "LINKSTORM"

	// StateDBDisabled turns off the history and page cache database.
	StateDBDisabled = "none"
	stateDBFileName = ".linkstorm.db"
)

// DefaultExtensions are the file extensions downloaded directly, everything else is mined for links.
var DefaultExtensions = []string{".mp3", ".mp4", ".pdf", ".zip", ".rar", ".exe", ".msi"}

func AddRootPersistentFlags(cmd *cobra.Command) error {
	// Persistent Flags (applies to all commands/subcommands)
	flags := cmd.PersistentFlags()
	flags.IntP(optname.Concurrency, "c", 5, "Maximum number of files transferred at the same time")
	flags.StringP(optname.ChunkSize, "s", "8KiB", "Initial read size per chunk, adapted between 1KiB and 64KiB during the transfer")
	flags.Bool(optname.Resume, true, "Resume partially downloaded files instead of starting over")
	flags.StringSlice(optname.Extensions, DefaultExtensions, "File extensions downloaded directly, other URLs are mined for links")
	flags.String(optname.MinBitrate, "none", "Only accept .mp3 links containing this bitrate token (e.g. 320), 'none' disables the filter")
	flags.IntP(optname.Retries, "r", 7, "Number of retries after a failed attempt")
	flags.Duration(optname.InitialBackoff, time.Second, "Wait before the first retry, doubled on every further retry")
	flags.Duration(optname.MaxBackoff, 10*time.Minute, "Upper bound for the wait between retries")
	flags.StringP(optname.Output, "o", "downloads", "Folder the files are written to")
	flags.IntP(optname.Parts, "p", 8, "Number of parallel connections for a multi-connection transfer")
	flags.Duration(optname.AdaptiveThreshold, 50*time.Millisecond, "Chunk read time below which the chunk size grows, above twice this it shrinks")
	flags.String(optname.MultiThreshold, "10MiB", "Files larger than this are split across parallel connections")
	flags.Duration(optname.ConnTimeout, 5*time.Second, "Timeout for establishing a connection, format is <number><unit>, e.g. 10s")
	flags.Duration(optname.ProbeTimeout, 5*time.Second, "Timeout for the HEAD request that discovers the file size")
	flags.Duration(optname.RequestTimeout, 30*time.Second, "Timeout waiting for response headers of a transfer request")
	flags.Duration(optname.ReadTimeout, time.Minute, "Timeout waiting for the next chunk of a transfer before the attempt is retried")
	flags.Duration(optname.PausePoll, time.Second, "How often a paused transfer checks whether it was resumed")
	flags.Float64(optname.ProgressRate, 10, "Maximum progress events per second and file, 0 disables throttling")
	flags.Int(optname.MaxConnPerHost, 0, "Maximum connections per host, 0 means unlimited")
	flags.Bool(optname.ForceHTTP2, false, "Force HTTP/2")
	flags.StringSlice(optname.Resolve, []string{}, "Resolve hostnames to specific IPs, format is <hostname>:<port>:<ip>")
	flags.String(optname.StateDB, "", "SQLite database for history and page cache, defaults to <output>/.linkstorm.db, 'none' disables it")
	flags.Bool(optname.RefreshCache, false, "Fetch pages again even when they are in the page cache")
	flags.Bool(optname.Render, false, "Render pages in headless Chromium when the static page has no links")
	flags.BoolP(optname.Extract, "x", false, "Extract zip and tar archives next to the downloaded file")
	flags.Bool(optname.Clipboard, false, "Add the URL currently in the clipboard to the queue")
	flags.Bool(optname.Progress, true, "Show a progress bar")
	flags.BoolP(optname.Verbose, "v", false, "Verbose mode (equivalent to --log-level debug)")
	flags.String(optname.LoggingLevel, "info", "Log level (trace, debug, info, warn, error)")
	flags.String(optname.ConfigFile, "", "Config file (json, yaml or toml) providing defaults for any flag")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	if err := viper.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind persistent flags: %w", err)
	}

	// Hide flags from help, these are intended to be used for testing/debugging only
	for _, flag := range []string{optname.ForceHTTP2, optname.PausePoll, optname.ProgressRate} {
		if err := flags.MarkHidden(flag); err != nil {
			return fmt.Errorf("failed to hide flag %s: %w", flag, err)
		}
	}
	return nil
}

func PersistentStartupProcessFlags() error {
	if path := viper.GetString(optname.ConfigFile); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	if viper.GetBool(optname.Verbose) {
		viper.Set(optname.LoggingLevel, "debug")
	}
	logging.SetLevel(viper.GetString(optname.LoggingLevel))
	if _, err := ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve)); err != nil {
		return err
	}
	return nil
}

// StateDBPath returns the configured database path, or "" when the database is disabled.
func StateDBPath() string {
	path := viper.GetString(optname.StateDB)
	switch path {
	case StateDBDisabled:
		return ""
	case "":
		return filepath.Join(viper.GetString(optname.Output), stateDBFileName)
	}
	return path
}

// ResolveOverridesToMap parses --resolve entries of the form <hostname>:<port>:<ip> into a map of host:port to
// ip:port.
func ResolveOverridesToMap(resolve []string) (map[string]string, error) {
	logger := logging.GetLogger()
	var overrides map[string]string
	for _, resolveHost := range resolve {
		split := strings.SplitN(resolveHost, ":", 3)
		if len(split) != 3 {
			return nil, fmt.Errorf("invalid resolve host format, expected <hostname>:port:<ip>, got: %s", resolveHost)
		}
		host, port, addr := split[0], split[1], split[2]
		if net.ParseIP(host) != nil {
			return nil, fmt.Errorf("invalid hostname specified, looks like an IP address: %s", host)
		}
		if net.ParseIP(addr) == nil {
			return nil, fmt.Errorf("invalid IP address: %s", addr)
		}
		hostPort := net.JoinHostPort(host, port)
		target := net.JoinHostPort(addr, port)
		if existing, ok := overrides[hostPort]; ok && existing != target {
			return nil, fmt.Errorf("duplicate host:port specified: %s", hostPort)
		}
		if overrides == nil {
			overrides = make(map[string]string)
		}
		overrides[hostPort] = target
	}
	if logger.GetLevel() <= zerolog.DebugLevel {
		for key, elem := range overrides {
			logger.Debug().Str("host_port", key).Str("resolve_target", elem).Msg("Config")
		}
	}
	return overrides, nil
}
