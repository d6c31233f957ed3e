package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	linkstorm "github.com/linkstorm/linkstorm/pkg"
	"github.com/linkstorm/linkstorm/pkg/download"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

// ConsoleObserver prints log lines and failures to a writer, with an optional bar counting finished files.
type ConsoleObserver struct {
	mu      sync.Mutex
	out     io.Writer
	showBar bool
	// bar is created by the first Overall call with a non-zero total.
	bar *progressbar.ProgressBar
}

var _ linkstorm.Observer = &ConsoleObserver{}

func NewConsoleObserver(out io.Writer, showBar bool) *ConsoleObserver {
	return &ConsoleObserver{out: out, showBar: showBar}
}

func (o *ConsoleObserver) newBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(o.out),
		progressbar.OptionSetDescription("linkstorm"),
		progressbar.OptionSetItsString("file"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (o *ConsoleObserver) Progress(fileName string, percent int) {
	logger := logging.GetLogger()
	logger.Trace().Str("file", fileName).Int("percent", percent).Msg("Progress")
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar == nil {
		return
	}
	o.bar.Describe(fmt.Sprintf("%s %3d%%", fileName, percent))
}

func (o *ConsoleObserver) Overall(done, total int) {
	if !o.showBar || total == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar == nil {
		o.bar = o.newBar(total)
	} else if o.bar.GetMax() != total {
		o.bar.ChangeMax(total)
	}
	_ = o.bar.Set(done)
}

func (o *ConsoleObserver) Status(fileName string, status download.Status, err error) {
	if status != download.StatusFailed {
		return
	}
	o.println(fmt.Sprintf("%s failed: %v", fileName, err))
}

func (o *ConsoleObserver) Log(line string) {
	o.println(line)
}

func (o *ConsoleObserver) Complete() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar == nil {
		return
	}
	_ = o.bar.Finish()
	fmt.Fprintln(o.out)
}

func (o *ConsoleObserver) println(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar != nil {
		_ = o.bar.Clear()
	}
	fmt.Fprintln(o.out, line)
}
