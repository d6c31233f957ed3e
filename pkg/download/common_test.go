package download

import (
	"bytes"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

type mockHTTPClient struct {
	doFunc    func(req *http.Request) (*http.Response, error)
	callCount atomic.Int32
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.callCount.Add(1)
	return m.doFunc(req)
}

// generateTestContent generates a byte slice of the given size filled with random bytes
func generateTestContent(size int64) []byte {
	rnd := rand.New(rand.NewSource(99))
	content := make([]byte, size)
	rnd.Read(content)
	return content
}

type requestLog struct {
	mu     sync.Mutex
	ranges []string
}

func (l *requestLog) add(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ranges = append(l.ranges, r.Header.Get("Range"))
}

func (l *requestLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ranges)
}

func (l *requestLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ranges...)
}

// newRangeServer serves content at every path with full Range support. GET requests are logged.
func newRangeServer(t *testing.T, content []byte) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			log.add(r)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server, log
}

// newSlowServer streams content in 1 KiB pieces with a pause between them, ignoring Range headers unless
// ranged is set.
func newSlowServer(t *testing.T, content []byte, ranged bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ranged && r.Header.Get("Range") != "" {
			http.ServeContent(w, r, "", time.Time{}, &slowReadSeeker{Reader: bytes.NewReader(content)})
			return
		}
		flusher := w.(http.Flusher)
		for off := 0; off < len(content); off += 1024 {
			end := min(off+1024, len(content))
			if _, err := w.Write(content[off:end]); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type slowReadSeeker struct {
	*bytes.Reader
}

func (s *slowReadSeeker) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return s.Reader.Read(p[:min(len(p), 1024)])
}

type recordingObserver struct {
	mu         sync.Mutex
	progress   []int
	logs       []string
	onProgress func(percent int)
}

func (o *recordingObserver) Progress(_ string, percent int) {
	o.mu.Lock()
	o.progress = append(o.progress, percent)
	hook := o.onProgress
	o.mu.Unlock()
	if hook != nil {
		hook(percent)
	}
}

func (o *recordingObserver) Log(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logs = append(o.logs, line)
}

func (o *recordingObserver) percents() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.progress...)
}

func (o *recordingObserver) lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.logs...)
}

func bytesReader(content []byte) *bytes.Reader {
	return bytes.NewReader(content)
}

// newStallingServer serves content with Range support, except that the first stalls requests send the
// headers and the first 1000 bytes of their range and then hang until the client goes away. Requests whose
// range starts at a non-zero offset never stall when onlyFirstPart is set.
func newStallingServer(t *testing.T, content []byte, stalls int32, onlyFirstPart bool) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	var stalled atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r)
		rng := r.Header.Get("Range")
		firstPart := rng == "" || strings.HasPrefix(rng, "bytes=0-")
		if (firstPart || !onlyFirstPart) && stalled.Add(1) <= stalls {
			start, end := 0, len(content)-1
			if rng != "" {
				_, _ = fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
				w.Header().Set("Content-Length", strconv.Itoa(end-start+1))
				w.WriteHeader(http.StatusPartialContent)
			} else {
				w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			}
			_, _ = w.Write(content[start : start+1000])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server, log
}
