package download

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linkstorm/linkstorm/pkg/logging"
)

// UnknownSize marks a total the server did not report.
const UnknownSize int64 = -1

type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusCanceled  Status = "Canceled"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCanceled, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCanceled},
	StatusPaused:  {StatusRunning, StatusCanceled, StatusFailed},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Strategy string

const (
	StrategySingle Strategy = "single"
	StrategyMulti  Strategy = "multi"
)

// Task is one file moving from a URL to local storage. The identifying fields are fixed at creation, the rest
// is owned by the transfer running the task and may be read concurrently through the accessors.
type Task struct {
	ID       string
	URL      string
	FileName string
	Dest     string

	mu       sync.Mutex
	total    int64
	bytes    int64
	errors   int
	status   Status
	strategy Strategy
	lastErr  error
	start    time.Time
	end      time.Time
}

func NewTask(url, fileName, dest string) *Task {
	return &Task{
		ID:       uuid.NewString(),
		URL:      url,
		FileName: fileName,
		Dest:     dest,
		total:    UnknownSize,
		status:   StatusQueued,
	}
}

func (t *Task) Total() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// SetTotal records the expected size, values <= 0 mean unknown.
func (t *Task) SetTotal(total int64) {
	if total <= 0 {
		total = UnknownSize
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

func (t *Task) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

func (t *Task) SetBytes(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytes = n
}

// AddBytes adds n to the transferred counter and returns the new value.
func (t *Task) AddBytes(n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytes += n
	return t.bytes
}

// RecordError counts a failed attempt and remembers err as the last error. It returns the error count.
func (t *Task) RecordError(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors++
	t.lastErr = err
	return t.errors
}

func (t *Task) Errors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errors
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Task) setStrategy(s Strategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.strategy = s
}

// Start moves a queued task to Running and stamps the start time.
func (t *Task) Start() bool {
	return t.transition(StatusRunning)
}

// Finish moves the task to a terminal status. err, when set, replaces the last recorded error.
func (t *Task) Finish(status Status, err error) bool {
	if !status.IsTerminal() {
		return false
	}
	t.mu.Lock()
	if err != nil {
		t.lastErr = err
	}
	t.mu.Unlock()
	return t.transition(status)
}

func (t *Task) transition(to Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.status
	if from == to {
		return false
	}
	if !canTransition(from, to) {
		logger := logging.GetLogger()
		logger.Debug().
			Str("file", t.FileName).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("Ignoring illegal status transition")
		return false
	}
	t.status = to
	now := time.Now()
	if to == StatusRunning && t.start.IsZero() {
		t.start = now
	}
	if to.IsTerminal() {
		t.end = now
	}
	return true
}

// Snapshot is an immutable copy of a task, safe to keep after the task is retired.
type Snapshot struct {
	ID        string
	URL       string
	FileName  string
	Dest      string
	Total     int64
	Bytes     int64
	Errors    int
	Status    Status
	Strategy  Strategy
	LastError string
	Start     time.Time
	End       time.Time
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		ID:       t.ID,
		URL:      t.URL,
		FileName: t.FileName,
		Dest:     t.Dest,
		Total:    t.total,
		Bytes:    t.bytes,
		Errors:   t.errors,
		Status:   t.status,
		Strategy: t.strategy,
		Start:    t.start,
		End:      t.end,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

// Duration is the wall time between start and end, or zero while the task has not finished.
func (s Snapshot) Duration() time.Duration {
	if s.Start.IsZero() || s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Throughput returns bytes per second over Duration, or zero when it cannot be computed.
func (s Snapshot) Throughput() float64 {
	d := s.Duration()
	if d <= 0 {
		return 0
	}
	return float64(s.Bytes) / d.Seconds()
}
