package download

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// Throughput formats size over elapsed for humans, e.g. "12 MB/s".
func Throughput(size int64, elapsed time.Duration) string {
	if elapsed <= 0 || size <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%s/s", humanize.Bytes(uint64(float64(size)/elapsed.Seconds())))
}

// Percent is floor(bytes/total*100), capped at 100. Unknown totals report 0.
func Percent(bytes, total int64) int {
	if total <= 0 || bytes <= 0 {
		return 0
	}
	if bytes >= total {
		return 100
	}
	return int(bytes * 100 / total)
}

// progressReporter turns byte counts into percent events. Events are emitted only when the percentage grows
// and are throttled by limiter, 100% always goes through.
type progressReporter struct {
	task    *Task
	obs     Observer
	limiter *rate.Limiter

	mu   sync.Mutex
	last int
}

func newProgressReporter(task *Task, obs Observer, perSecond float64) *progressReporter {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &progressReporter{task: task, obs: obs, limiter: limiter, last: -1}
}

func (p *progressReporter) update(bytes int64) {
	pct := Percent(bytes, p.task.Total())
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct <= p.last {
		return
	}
	// the first event spends the token too, so the next one waits a full interval
	allowed := p.limiter.Allow()
	if pct < 100 && p.last >= 0 && !allowed {
		return
	}
	p.last = pct
	p.obs.Progress(p.task.FileName, pct)
}

// force emits pct unless it was the last value sent.
func (p *progressReporter) force(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct == p.last {
		return
	}
	p.last = pct
	p.obs.Progress(p.task.FileName, pct)
}

// reset forgets the last emitted value after the byte counter went back to zero.
func (p *progressReporter) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = -1
}
