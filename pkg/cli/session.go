package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
	"github.com/linkstorm/linkstorm/pkg/client"
	"github.com/linkstorm/linkstorm/pkg/config"
	"github.com/linkstorm/linkstorm/pkg/discovery"
	"github.com/linkstorm/linkstorm/pkg/download"
	"github.com/linkstorm/linkstorm/pkg/extract"
	"github.com/linkstorm/linkstorm/pkg/logging"
	"github.com/linkstorm/linkstorm/pkg/optname"
	"github.com/linkstorm/linkstorm/pkg/store"
)

// BuildOptions reads the engine options from the current configuration.
func BuildOptions() (linkstorm.Options, error) {
	chunkSize, err := parseSize(optname.ChunkSize)
	if err != nil {
		return linkstorm.Options{}, err
	}
	multiThreshold, err := parseSize(optname.MultiThreshold)
	if err != nil {
		return linkstorm.Options{}, err
	}
	extensions := viper.GetStringSlice(optname.Extensions)
	if len(extensions) == 0 {
		extensions = config.DefaultExtensions
	}
	minBitrate := viper.GetString(optname.MinBitrate)
	if minBitrate == "" {
		minBitrate = discovery.BitrateAny
	}

	return linkstorm.Options{
		Folder:         viper.GetString(optname.Output),
		Concurrency:    viper.GetInt(optname.Concurrency),
		MultiThreshold: int64(multiThreshold),
		ProbeTimeout:   viper.GetDuration(optname.ProbeTimeout),
		Rules: discovery.Rules{
			Extensions: extensions,
			MinBitrate: minBitrate,
		},
		Transfer: download.Options{
			ChunkSize:         int(chunkSize),
			AdaptiveThreshold: viper.GetDuration(optname.AdaptiveThreshold),
			Resume:            viper.GetBool(optname.Resume),
			MaxRetries:        viper.GetInt(optname.Retries),
			InitialBackoff:    viper.GetDuration(optname.InitialBackoff),
			MaxBackoff:        viper.GetDuration(optname.MaxBackoff),
			PausePoll:         viper.GetDuration(optname.PausePoll),
			ReadTimeout:       viper.GetDuration(optname.ReadTimeout),
			Parts:             viper.GetInt(optname.Parts),
			ProgressRate:      viper.GetFloat64(optname.ProgressRate),
		},
	}, nil
}

func parseSize(name string) (uint64, error) {
	value := viper.GetString(name)
	if value == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return size, nil
}

// RunSession runs one session over entries with every collaborator built from the current configuration. It
// returns an error when the session could not run or when any file did not complete.
func RunSession(ctx context.Context, entries []string, out io.Writer) ([]download.Snapshot, error) {
	logger := logging.GetLogger()
	opts, err := BuildOptions()
	if err != nil {
		return nil, err
	}
	if err := EnsureFolder(opts.Folder); err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock := NewSessionLock(opts.Folder)
	if err := lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn().Err(err).Str("path", lock.Path()).Msg("Failed to release lock")
		}
	}()

	orchestrator, cleanup, err := newOrchestrator(opts, out)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	logger.Info().Int("entries", len(entries)).
		Str("folder", opts.Folder).
		Int("concurrency", opts.Concurrency).
		Str("multi_threshold", humanize.IBytes(uint64(opts.MultiThreshold))).
		Msg("Initiating")

	start := time.Now()
	snaps, err := orchestrator.Run(ctx, entries)
	if err != nil {
		return nil, err
	}
	LogSummary(snaps, time.Since(start))

	if failed := countStatus(snaps, download.StatusFailed); failed > 0 {
		return snaps, fmt.Errorf("%d of %d downloads failed", failed, len(snaps))
	}
	if ctx.Err() != nil {
		return snaps, fmt.Errorf("session interrupted: %w", context.Cause(ctx))
	}
	return snaps, nil
}

func newOrchestrator(opts linkstorm.Options, out io.Writer) (*linkstorm.Orchestrator, func(), error) {
	logger := logging.GetLogger()
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	overrides, err := config.ResolveOverridesToMap(viper.GetStringSlice(optname.Resolve))
	if err != nil {
		return nil, nil, err
	}
	jar, err := client.NewCookieJar()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	clientOpts := client.Options{
		MaxRetries:            viper.GetInt(optname.Retries),
		ForceHTTP2:            viper.GetBool(optname.ForceHTTP2),
		ConnectTimeout:        viper.GetDuration(optname.ConnTimeout),
		ResponseHeaderTimeout: viper.GetDuration(optname.RequestTimeout),
		MaxConnPerHost:        viper.GetInt(optname.MaxConnPerHost),
		ResolveOverrides:      overrides,
		Jar:                   jar,
	}
	probeClient := client.NewHTTPClient(clientOpts)

	var cache discovery.PageCache = discovery.NewMemoryCache()
	var recorder linkstorm.Recorder
	if path := config.StateDBPath(); path != "" {
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, st.Close)
		cache = st
		recorder = st
	}

	extractor := &discovery.HTMLExtractor{
		Client:  probeClient,
		Cache:   cache,
		Rules:   opts.Rules,
		Refresh: viper.GetBool(optname.RefreshCache),
		Timeout: viper.GetDuration(optname.RequestTimeout),
	}
	if viper.GetBool(optname.Render) {
		renderer := &discovery.BrowserRenderer{Timeout: viper.GetDuration(optname.RequestTimeout), Install: true}
		closers = append(closers, renderer.Close)
		extractor.Renderer = renderer
	}

	orchestrator := &linkstorm.Orchestrator{
		Options:     opts,
		Client:      client.NewTransferClient(clientOpts),
		ProbeClient: probeClient,
		Extractor:   extractor,
		Observer:    NewConsoleObserver(out, viper.GetBool(optname.Progress)),
		Recorder:    recorder,
	}
	if viper.GetBool(optname.Extract) {
		orchestrator.Unpacker = &extract.Unpacker{}
	}
	return orchestrator, cleanup, nil
}

// LogSummary logs totals over the completed files of a session.
func LogSummary(snaps []download.Snapshot, elapsed time.Duration) {
	logger := logging.GetLogger()
	var totalBytes int64
	for _, snap := range snaps {
		if snap.Status == download.StatusCompleted {
			totalBytes += snap.Bytes
		}
	}
	logger.Info().
		Int("file_count", len(snaps)).
		Int("completed", countStatus(snaps, download.StatusCompleted)).
		Int("failed", countStatus(snaps, download.StatusFailed)).
		Int("canceled", countStatus(snaps, download.StatusCanceled)).
		Str("total_bytes_downloaded", humanize.Bytes(uint64(totalBytes))).
		Str("throughput", download.Throughput(totalBytes, elapsed)).
		Str("elapsed_time", fmt.Sprintf("%.3fs", elapsed.Seconds())).
		Msg("Metrics")
}

func countStatus(snaps []download.Snapshot, status download.Status) int {
	n := 0
	for _, snap := range snaps {
		if snap.Status == status {
			n++
		}
	}
	return n
}
