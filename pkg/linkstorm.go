package linkstorm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/linkstorm/linkstorm/pkg/discovery"
	"github.com/linkstorm/linkstorm/pkg/download"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

// ErrSessionRunning is returned by Run while another Run of the same Orchestrator is in progress.
var ErrSessionRunning = errors.New("a session is already running")

type Options struct {
	// Folder receives every downloaded file.
	Folder string
	// Maximum number of files transferred at the same time. If set to zero, 5 will be used.
	Concurrency int
	// Files with a known size above this are split across parallel connections. Zero or less disables
	// multi-connection transfers.
	MultiThreshold int64
	ProbeTimeout   time.Duration
	Rules          discovery.Rules
	Transfer       download.Options
}

// Observer receives the signals of a session. Calls arrive from many goroutines.
type Observer interface {
	download.Observer
	// Overall reports how many tasks reached a terminal status out of the session total.
	Overall(done, total int)
	Status(fileName string, status download.Status, err error)
	// Complete is called once after every task reached a terminal status.
	Complete()
}

// Recorder persists the final state of every task.
type Recorder interface {
	Record(ctx context.Context, session string, snap download.Snapshot) error
}

// Unpacker expands a completed download. It returns "" when there was nothing to expand.
type Unpacker interface {
	Unpack(ctx context.Context, path string) (string, error)
}

// Orchestrator turns a queue of URLs into finished files. Pages are mined for links first, then every file is
// probed and transferred over one or several connections, at most Options.Concurrency at a time.
type Orchestrator struct {
	Options Options
	// Client carries the transfers. ProbeClient, when set, is used for HEAD requests instead.
	Client      download.HTTPClient
	ProbeClient download.HTTPClient
	Extractor   discovery.Extractor
	Observer    Observer
	Recorder    Recorder
	// Unpacker, when set, runs on every completed file.
	Unpacker Unpacker

	mu      sync.Mutex
	active  bool
	session string
	tasks   []*download.Task
	queued  map[string]bool
	running map[string]*download.Control
	done    int
}

const defaultConcurrency = 5

// Run processes entries and returns the snapshot of every accepted task once all of them are terminal. The
// error is reserved for problems preparing the session, individual files never fail the run.
func (o *Orchestrator) Run(ctx context.Context, entries []string) ([]download.Snapshot, error) {
	logger := logging.GetLogger()
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	if err := os.MkdirAll(o.Options.Folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output folder %s: %w", o.Options.Folder, err)
	}
	obs := o.observer()

	tasks := o.discover(ctx, entries)
	logger.Info().Str("session", o.session).Int("files", len(tasks)).Str("folder", o.Options.Folder).Msg("Queue ready")
	obs.Overall(0, len(tasks))

	var errGroup errgroup.Group
	errGroup.SetLimit(o.concurrency())
	for _, task := range tasks {
		task := task
		errGroup.Go(func() error {
			o.runTask(ctx, task)
			return nil
		})
	}
	_ = errGroup.Wait()

	logger.Info().Str("session", o.session).Msg("All downloads completed")
	obs.Log("All downloads completed.")
	obs.Complete()
	return o.Analytics(), nil
}

// Session is the id of the current or last session.
func (o *Orchestrator) Session() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Analytics returns a snapshot of every task of the current or last session, in queue order.
func (o *Orchestrator) Analytics() []download.Snapshot {
	o.mu.Lock()
	tasks := append([]*download.Task(nil), o.tasks...)
	o.mu.Unlock()

	snaps := make([]download.Snapshot, 0, len(tasks))
	for _, task := range tasks {
		snaps = append(snaps, task.Snapshot())
	}
	return snaps
}

// RequestCancel asks the running transfer of fileName to stop. It does nothing when no such transfer runs.
func (o *Orchestrator) RequestCancel(fileName string) {
	ctl := o.control(fileName)
	if ctl == nil {
		return
	}
	ctl.RequestCancel()
	o.observer().Log(fmt.Sprintf("Cancel requested for %s.", fileName))
}

// RequestPauseOrResume toggles the pause request of the running transfer of fileName. It does nothing when no
// such transfer runs.
func (o *Orchestrator) RequestPauseOrResume(fileName string) {
	ctl := o.control(fileName)
	if ctl == nil {
		return
	}
	if ctl.TogglePause() {
		o.observer().Log(fmt.Sprintf("Pause requested for %s.", fileName))
		return
	}
	o.observer().Log(fmt.Sprintf("Resume requested for %s.", fileName))
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active {
		return ErrSessionRunning
	}
	o.active = true
	o.session = uuid.NewString()
	o.tasks = nil
	o.queued = make(map[string]bool)
	o.running = make(map[string]*download.Control)
	o.done = 0
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = false
}

func (o *Orchestrator) control(fileName string) *download.Control {
	o.mu.Lock()
	defer o.mu.Unlock()
	ctl, ok := o.running[fileName]
	if !ok {
		logger := logging.GetLogger()
		logger.Debug().Str("file", fileName).Msg("No running transfer, ignoring control request")
		return nil
	}
	return ctl
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return NopObserver{}
	}
	return o.Observer
}

func (o *Orchestrator) concurrency() int {
	if o.Options.Concurrency <= 0 {
		return defaultConcurrency
	}
	return o.Options.Concurrency
}

// discover classifies every entry, mines pages concurrently and builds the task list. Queue order is kept and
// a file name is accepted only once.
func (o *Orchestrator) discover(ctx context.Context, entries []string) []*download.Task {
	results := make([][]string, len(entries))
	var errGroup errgroup.Group
	errGroup.SetLimit(o.concurrency())
	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if discovery.Classify(entry, o.Options.Rules) == discovery.DirectDownload {
			results[i] = []string{entry}
			continue
		}
		i, entry := i, entry
		errGroup.Go(func() error {
			results[i] = o.mine(ctx, entry)
			return nil
		})
	}
	_ = errGroup.Wait()

	for _, urls := range results {
		for _, u := range urls {
			o.enqueue(u)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*download.Task(nil), o.tasks...)
}

func (o *Orchestrator) mine(ctx context.Context, pageURL string) []string {
	logger := logging.GetLogger()
	obs := o.observer()

	var links []string
	if o.Extractor != nil {
		found, err := o.Extractor.Extract(ctx, pageURL)
		if err != nil {
			logger.Warn().Err(err).Str("url", pageURL).Msg("Page mining failed")
		}
		for _, link := range found {
			if discovery.Classify(link, o.Options.Rules) == discovery.DirectDownload {
				links = append(links, link)
			}
		}
	}
	if len(links) == 0 {
		msg := fmt.Sprintf("No downloadable file found on %s.", pageURL)
		logger.Warn().Str("url", pageURL).Msg("No downloadable file found")
		obs.Log(msg)
		return nil
	}
	for _, link := range links {
		obs.Log(fmt.Sprintf("Added to queue: %s", link))
	}
	logger.Info().Str("url", pageURL).Int("links", len(links)).Msg("Page mined")
	return links
}

func (o *Orchestrator) enqueue(rawURL string) {
	logger := logging.GetLogger()
	name := discovery.CanonicalName(rawURL)
	if name == "" {
		logger.Warn().Str("url", rawURL).Msg("No file name in URL, skipping")
		o.observer().Log(fmt.Sprintf("No file name in %s, skipping.", rawURL))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queued[name] {
		logger.Debug().Str("url", rawURL).Str("file", name).Msg("Duplicate file name, skipping")
		return
	}
	o.queued[name] = true
	o.tasks = append(o.tasks, download.NewTask(rawURL, name, filepath.Join(o.Options.Folder, name)))
}

func (o *Orchestrator) runTask(ctx context.Context, task *download.Task) {
	logger := logging.GetLogger()
	obs := o.observer()
	ctl := download.NewControl()

	o.mu.Lock()
	o.running[task.FileName] = ctl
	o.mu.Unlock()

	task.Start()
	obs.Status(task.FileName, download.StatusRunning, nil)

	probeClient := o.ProbeClient
	if probeClient == nil {
		probeClient = o.Client
	}
	probe, err := download.Probe(ctx, probeClient, task.URL, o.Options.ProbeTimeout)
	if err != nil {
		logger.Warn().Err(err).Str("url", task.URL).Msg("Size probe failed, continuing without a size")
	}
	task.SetTotal(probe.Size)

	err = o.transfer(ctx, task, ctl)

	o.mu.Lock()
	delete(o.running, task.FileName)
	o.mu.Unlock()
	o.finish(ctx, task, err)
}

func (o *Orchestrator) transfer(ctx context.Context, task *download.Task, ctl *download.Control) error {
	logger := logging.GetLogger()
	opts := o.Options.Transfer
	total := task.Total()

	if o.Options.MultiThreshold > 0 && total > o.Options.MultiThreshold {
		// an unusable destination or a finished file is left to the single stream, which reports it
		_, complete, err := download.CheckResume(task.Dest, total, opts.Resume)
		if err == nil && !complete {
			multi := &download.MultiStream{Client: o.Client, Options: opts, Observer: o.observer()}
			err = multi.Run(ctx, task, ctl)
			if err == nil || errors.Is(err, download.ErrCanceled) {
				return err
			}
			logger.Warn().Err(err).Str("url", task.URL).Msg("Multi-connection download failed, falling back to a single connection")
			o.observer().Log(fmt.Sprintf("Multi-connection download failed for %s: %v. Falling back to a single connection.", task.FileName, err))
		}
	}

	single := &download.SingleStream{Client: o.Client, Options: opts, Observer: o.observer()}
	return single.Run(ctx, task, ctl)
}

func (o *Orchestrator) finish(ctx context.Context, task *download.Task, err error) {
	logger := logging.GetLogger()
	obs := o.observer()
	snap := task.Snapshot()

	if snap.Status == download.StatusCompleted {
		if kind, mismatch := contentMismatch(snap.Dest); mismatch {
			logger.Warn().Str("dest", snap.Dest).Str("detected", kind).Msg("Content does not match file extension")
			obs.Log(fmt.Sprintf("Warning: %s looks like a %s file.", snap.FileName, kind))
		}
		o.unpack(ctx, snap)
	}
	var statusErr error
	if snap.Status == download.StatusFailed {
		statusErr = err
	}
	obs.Status(snap.FileName, snap.Status, statusErr)

	if o.Recorder != nil {
		if err := o.Recorder.Record(context.WithoutCancel(ctx), o.Session(), snap); err != nil {
			logger.Warn().Err(err).Str("file", snap.FileName).Msg("Failed to record transfer")
		}
	}

	o.mu.Lock()
	o.done++
	done, total := o.done, len(o.tasks)
	o.mu.Unlock()
	obs.Overall(done, total)
}

func (o *Orchestrator) unpack(ctx context.Context, snap download.Snapshot) {
	if o.Unpacker == nil {
		return
	}
	logger := logging.GetLogger()
	dir, err := o.Unpacker.Unpack(ctx, snap.Dest)
	if err != nil {
		logger.Warn().Err(err).Str("dest", snap.Dest).Msg("Extraction failed")
		o.observer().Log(fmt.Sprintf("Failed to extract %s: %v", snap.FileName, err))
		return
	}
	if dir != "" {
		o.observer().Log(fmt.Sprintf("Extracted %s to %s.", snap.FileName, dir))
	}
}
