package linkstorm_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
	"github.com/linkstorm/linkstorm/pkg/discovery"
	"github.com/linkstorm/linkstorm/pkg/download"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// pattern is a virtual file whose byte at offset i is i mod 251.
type pattern struct{}

func (pattern) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = byte((off + int64(i)) % 251)
	}
	return len(p), nil
}

func parseRange(t *testing.T, header string) (int64, int64) {
	t.Helper()
	byteRange, ok := strings.CutPrefix(header, "bytes=")
	require.True(t, ok, "unexpected range header %q", header)
	startStr, endStr, ok := strings.Cut(byteRange, "-")
	require.True(t, ok)
	start, err := strconv.ParseInt(startStr, 10, 64)
	require.NoError(t, err)
	end, err := strconv.ParseInt(endStr, 10, 64)
	require.NoError(t, err)
	return start, end
}

func newPatternTransport(t *testing.T, rawURL string, size int64, gets *atomic.Int32) *httpmock.MockTransport {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodHead, rawURL, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, nil)
		resp.ContentLength = size
		resp.Header.Set("Accept-Ranges", "bytes")
		return resp, nil
	})
	mock.RegisterResponder(http.MethodGet, rawURL, func(req *http.Request) (*http.Response, error) {
		gets.Add(1)
		start, end := parseRange(t, req.Header.Get("Range"))
		length := end - start + 1
		resp := &http.Response{
			Status:        "206 Partial Content",
			StatusCode:    http.StatusPartialContent,
			Header:        http.Header{},
			Body:          io.NopCloser(io.NewSectionReader(pattern{}, start, length)),
			ContentLength: length,
			Request:       req,
		}
		resp.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		return resp, nil
	})
	return mock
}

func assertPattern(t *testing.T, path string, size int64) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, size, info.Size())

	got := make([]byte, 1024*1024)
	want := make([]byte, len(got))
	var off int64
	for off < size {
		n, err := io.ReadFull(f, got)
		if err != nil {
			require.ErrorIs(t, err, io.ErrUnexpectedEOF)
		}
		_, _ = pattern{}.ReadAt(want[:n], off)
		require.True(t, bytes.Equal(want[:n], got[:n]), "content differs in the block at %d", off)
		off += int64(n)
	}
}

func generateTestContent(size int) []byte {
	rnd := rand.New(rand.NewSource(99))
	content := make([]byte, size)
	rnd.Read(content)
	return content
}

func newContentServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server
}

type statusEvent struct {
	file   string
	status download.Status
	err    error
}

type recordingObserver struct {
	mu        sync.Mutex
	logs      []string
	overall   [][2]int
	statuses  []statusEvent
	completed int
	onStatus  func(file string, status download.Status)
	onOverall func(done, total int)
}

func (o *recordingObserver) Progress(string, int) {}

func (o *recordingObserver) Log(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, line)
}

func (o *recordingObserver) Overall(done, total int) {
	o.mu.Lock()
	o.overall = append(o.overall, [2]int{done, total})
	hook := o.onOverall
	o.mu.Unlock()
	if hook != nil {
		hook(done, total)
	}
}

func (o *recordingObserver) Status(file string, status download.Status, err error) {
	o.mu.Lock()
	o.statuses = append(o.statuses, statusEvent{file: file, status: status, err: err})
	hook := o.onStatus
	o.mu.Unlock()
	if hook != nil {
		hook(file, status)
	}
}

func (o *recordingObserver) Complete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
}

func (o *recordingObserver) hasLog(substr string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, line := range o.logs {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (o *recordingObserver) terminal(file string) (statusEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range o.statuses {
		if ev.file == file && ev.status.IsTerminal() {
			return ev, true
		}
	}
	return statusEvent{}, false
}

type stubExtractor struct {
	mu    sync.Mutex
	links map[string][]string
	calls []string
}

func (s *stubExtractor) Extract(_ context.Context, pageURL string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, pageURL)
	return s.links[pageURL], nil
}

type memoryRecorder struct {
	mu      sync.Mutex
	session map[string]int
	snaps   []download.Snapshot
}

func (r *memoryRecorder) Record(_ context.Context, session string, snap download.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		r.session = make(map[string]int)
	}
	r.session[session]++
	r.snaps = append(r.snaps, snap)
	return nil
}

func testOptions(t *testing.T, extensions ...string) linkstorm.Options {
	return linkstorm.Options{
		Folder:      t.TempDir(),
		Concurrency: 3,
		Rules:       discovery.Rules{Extensions: extensions, MinBitrate: discovery.BitrateAny},
		Transfer: download.Options{
			MaxRetries:     0,
			InitialBackoff: time.Millisecond,
			PausePoll:      5 * time.Millisecond,
		},
	}
}

func TestRunMultiStreamEndToEnd(t *testing.T) {
	const size = 50_000_000
	const rawURL = "https://example.test/a.pdf"
	var gets atomic.Int32
	mock := newPatternTransport(t, rawURL, size, &gets)

	opts := testOptions(t, ".pdf")
	opts.MultiThreshold = 10 * 1024 * 1024
	opts.Transfer.Parts = 8
	opts.Transfer.Resume = true
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{
		Options:  opts,
		Client:   &http.Client{Transport: mock},
		Observer: obs,
	}

	snaps, err := o.Run(context.Background(), []string{rawURL})
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	assert.Equal(t, "a.pdf", snap.FileName)
	assert.Equal(t, download.StatusCompleted, snap.Status)
	assert.Equal(t, download.StrategyMulti, snap.Strategy)
	assert.Equal(t, int64(size), snap.Bytes)
	assert.Equal(t, int64(size), snap.Total)
	assert.Equal(t, int32(8), gets.Load())

	dest := filepath.Join(opts.Folder, "a.pdf")
	assertPattern(t, dest, size)
	assert.NoFileExists(t, dest+download.WorkingSuffix)

	assert.Equal(t, [][2]int{{0, 1}, {1, 1}}, obs.overall)
	assert.Equal(t, 1, obs.completed)
	assert.True(t, obs.hasLog("All downloads completed."))
	ev, ok := obs.terminal("a.pdf")
	require.True(t, ok)
	assert.Equal(t, download.StatusCompleted, ev.status)
	assert.NoError(t, ev.err)
}

func TestRunDropsPageWithoutLinks(t *testing.T) {
	const rawURL = "https://example.test/b.mp3"
	mock := httpmock.NewMockTransport()
	extractor := &stubExtractor{}

	opts := testOptions(t, ".mp3")
	opts.Rules.MinBitrate = "320"
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{
		Options:   opts,
		Client:    &http.Client{Transport: mock},
		Extractor: extractor,
		Observer:  obs,
	}

	snaps, err := o.Run(context.Background(), []string{rawURL})
	require.NoError(t, err)
	assert.Empty(t, snaps)
	assert.Equal(t, []string{rawURL}, extractor.calls)
	assert.True(t, obs.hasLog("No downloadable file found on https://example.test/b.mp3."))
	assert.Empty(t, obs.statuses)
	assert.Equal(t, [][2]int{{0, 0}}, obs.overall)
	assert.Equal(t, 1, obs.completed)
	assert.Zero(t, mock.GetTotalCallCount())
}

func TestRunMinesPageLinks(t *testing.T) {
	content := generateTestContent(10 * 1024)
	server := newContentServer(t, content)

	page := server.URL + "/album"
	extractor := &stubExtractor{links: map[string][]string{
		page: {
			server.URL + "/tracks/song-320.mp3",
			server.URL + "/tracks/song-128.mp3",
			server.URL + "/cover.jpg",
			server.URL + "/mirror/song-320.mp3",
		},
	}}

	opts := testOptions(t, ".mp3")
	opts.Rules.MinBitrate = "320"
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{
		Options:   opts,
		Client:    server.Client(),
		Extractor: extractor,
		Observer:  obs,
	}

	snaps, err := o.Run(context.Background(), []string{page})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "song-320.mp3", snaps[0].FileName)
	assert.Equal(t, download.StatusCompleted, snaps[0].Status)
	assert.True(t, obs.hasLog("Added to queue: "+server.URL+"/tracks/song-320.mp3"))

	got, err := os.ReadFile(filepath.Join(opts.Folder, "song-320.mp3"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRunDeduplicatesFileNames(t *testing.T) {
	content := generateTestContent(4096)
	server := newContentServer(t, content)

	opts := testOptions(t, ".bin")
	o := &linkstorm.Orchestrator{Options: opts, Client: server.Client()}

	snaps, err := o.Run(context.Background(), []string{
		server.URL + "/x/data.bin",
		server.URL + "/y/data.bin",
		"  ",
		server.URL + "/",
	})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, server.URL+"/x/data.bin", snaps[0].URL)
	assert.Equal(t, download.StatusCompleted, snaps[0].Status)
}

func TestRunFallsBackToSingleStream(t *testing.T) {
	content := generateTestContent(64 * 1024)
	// ignores Range headers, so every part request gets a 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(content)
		}
	}))
	defer server.Close()

	opts := testOptions(t, ".bin")
	opts.MultiThreshold = 1024
	opts.Transfer.Parts = 4
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: opts, Client: server.Client(), Observer: obs}

	snaps, err := o.Run(context.Background(), []string{server.URL + "/big.bin"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	snap := snaps[0]
	assert.Equal(t, download.StatusCompleted, snap.Status)
	assert.Equal(t, download.StrategySingle, snap.Strategy)
	assert.Equal(t, int64(len(content)), snap.Bytes)
	assert.GreaterOrEqual(t, snap.Errors, 1)
	assert.True(t, obs.hasLog("Multi-connection download failed for big.bin"))

	dest := filepath.Join(opts.Folder, "big.bin")
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.NoFileExists(t, dest+download.WorkingSuffix)
}

func TestRunUnusableDestinationSkipsMultiStream(t *testing.T) {
	const size = 20 * 1024 * 1024
	const rawURL = "https://example.test/album.zip"
	var gets atomic.Int32
	mock := newPatternTransport(t, rawURL, size, &gets)

	opts := testOptions(t, ".zip")
	opts.MultiThreshold = 10 * 1024 * 1024
	opts.Transfer.Resume = true
	dest := filepath.Join(opts.Folder, "album.zip")
	require.NoError(t, os.Mkdir(dest, 0o755))
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: opts, Client: &http.Client{Transport: mock}, Observer: obs}

	snaps, err := o.Run(context.Background(), []string{rawURL})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, download.StatusFailed, snaps[0].Status)
	assert.Equal(t, download.StrategySingle, snaps[0].Strategy)
	assert.Contains(t, snaps[0].LastError, "is a directory")
	assert.Zero(t, gets.Load())
	assert.False(t, obs.hasLog("Multi-connection download failed"))
	assert.NoFileExists(t, dest+download.WorkingSuffix)
}

func TestRunFailureDoesNotAbortSiblings(t *testing.T) {
	content := generateTestContent(2048)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.bin") {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	defer server.Close()

	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Client: server.Client(), Observer: obs}

	snaps, err := o.Run(context.Background(), []string{server.URL + "/missing.bin", server.URL + "/present.bin"})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, download.StatusFailed, snaps[0].Status)
	assert.Contains(t, snaps[0].LastError, "404")
	assert.Equal(t, download.StatusCompleted, snaps[1].Status)

	ev, ok := obs.terminal("missing.bin")
	require.True(t, ok)
	assert.Equal(t, download.StatusFailed, ev.status)
	var statusErr download.HTTPStatusError
	assert.ErrorAs(t, ev.err, &statusErr)
	assert.Equal(t, [2]int{2, 2}, obs.overall[len(obs.overall)-1])
}

func TestRequestCancelStopsRunningTransfer(t *testing.T) {
	content := generateTestContent(8192)
	server := newContentServer(t, content)

	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Client: server.Client(), Observer: obs}
	obs.onStatus = func(file string, status download.Status) {
		if status == download.StatusRunning {
			o.RequestCancel(file)
		}
	}

	snaps, err := o.Run(context.Background(), []string{server.URL + "/slow.bin"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, download.StatusCanceled, snaps[0].Status)
	assert.True(t, obs.hasLog("Cancel requested for slow.bin."))
	ev, ok := obs.terminal("slow.bin")
	require.True(t, ok)
	assert.Equal(t, download.StatusCanceled, ev.status)
	assert.NoError(t, ev.err)
}

func TestControlRequestsWithoutRunningTask(t *testing.T) {
	o := &linkstorm.Orchestrator{}
	assert.NotPanics(t, func() {
		o.RequestCancel("nothing.bin")
		o.RequestPauseOrResume("nothing.bin")
	})

	content := generateTestContent(1024)
	server := newContentServer(t, content)
	obs := &recordingObserver{}
	o = &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Client: server.Client(), Observer: obs}
	_, err := o.Run(context.Background(), []string{server.URL + "/done.bin"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		o.RequestCancel("done.bin")
		o.RequestPauseOrResume("done.bin")
	})
	assert.False(t, obs.hasLog("requested for done.bin"))
}

func TestRunRecordsSnapshots(t *testing.T) {
	content := generateTestContent(1024)
	server := newContentServer(t, content)
	recorder := &memoryRecorder{}
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Client: server.Client(), Recorder: recorder}

	_, err := o.Run(context.Background(), []string{server.URL + "/one.bin", server.URL + "/two.bin"})
	require.NoError(t, err)

	require.NotEmpty(t, o.Session())
	assert.Equal(t, map[string]int{o.Session(): 2}, recorder.session)
	assert.Len(t, recorder.snaps, 2)
	for _, snap := range recorder.snaps {
		assert.Equal(t, download.StatusCompleted, snap.Status)
	}
	assert.Len(t, o.Analytics(), 2)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Observer: obs}
	var nested error
	obs.onOverall = func(done, total int) {
		if done == 0 {
			_, nested = o.Run(context.Background(), nil)
		}
	}

	_, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, nested, linkstorm.ErrSessionRunning)
}

func TestRunWarnsOnContentMismatch(t *testing.T) {
	page := []byte("<!DOCTYPE html><html><body>Not found</body></html>")
	server := newContentServer(t, page)
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".pdf"), Client: server.Client(), Observer: obs}

	snaps, err := o.Run(context.Background(), []string{server.URL + "/paper.pdf"})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, download.StatusCompleted, snaps[0].Status)
	assert.True(t, obs.hasLog("Warning: paper.pdf looks like a html file."))
}

func TestChannelsObserver(t *testing.T) {
	content := generateTestContent(1024)
	server := newContentServer(t, content)
	obs := linkstorm.NewChannels(256)
	o := &linkstorm.Orchestrator{Options: testOptions(t, ".bin"), Client: server.Client(), Observer: obs}

	_, err := o.Run(context.Background(), []string{server.URL + "/c.bin"})
	require.NoError(t, err)

	select {
	case <-obs.Done:
	default:
		t.Fatal("Done was not closed")
	}
	var last linkstorm.OverallEvent
	for len(obs.OverallC) > 0 {
		last = <-obs.OverallC
	}
	assert.Equal(t, linkstorm.OverallEvent{Done: 1, Total: 1}, last)

	var terminal linkstorm.StatusEvent
	for len(obs.StatusC) > 0 {
		terminal = <-obs.StatusC
	}
	assert.Equal(t, "c.bin", terminal.FileName)
	assert.Equal(t, download.StatusCompleted, terminal.Status)
	assert.NotEmpty(t, obs.ProgressC)
}

type stubUnpacker struct {
	mu    sync.Mutex
	paths []string
}

func (u *stubUnpacker) Unpack(_ context.Context, path string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	if strings.HasSuffix(path, ".zip") {
		return strings.TrimSuffix(path, ".zip"), nil
	}
	return "", nil
}

func TestRunUnpacksCompletedFiles(t *testing.T) {
	content := generateTestContent(1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.zip") {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	defer server.Close()

	opts := testOptions(t, ".zip", ".pdf")
	unpacker := &stubUnpacker{}
	obs := &recordingObserver{}
	o := &linkstorm.Orchestrator{Options: opts, Client: server.Client(), Observer: obs, Unpacker: unpacker}

	_, err := o.Run(context.Background(), []string{server.URL + "/set.zip", server.URL + "/doc.pdf", server.URL + "/missing.zip"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(opts.Folder, "set.zip"), filepath.Join(opts.Folder, "doc.pdf")}, unpacker.paths)
	assert.True(t, obs.hasLog("Extracted set.zip to "+filepath.Join(opts.Folder, "set")+"."))
}
