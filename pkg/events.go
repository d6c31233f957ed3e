package linkstorm

import (
	"sync"

	"github.com/linkstorm/linkstorm/pkg/download"
)

type ProgressEvent struct {
	FileName string
	Percent  int
}

type OverallEvent struct {
	Done  int
	Total int
}

type StatusEvent struct {
	FileName string
	Status   download.Status
	Err      error
}

// Channels is an Observer that forwards every signal to a buffered channel. Sends block once a buffer is
// full, so embedders must drain every channel they did not size for the whole session. Done is closed by
// Complete.
type Channels struct {
	ProgressC chan ProgressEvent
	OverallC  chan OverallEvent
	StatusC   chan StatusEvent
	LogC      chan string
	Done      chan struct{}

	once sync.Once
}

func NewChannels(buffer int) *Channels {
	return &Channels{
		ProgressC: make(chan ProgressEvent, buffer),
		OverallC:  make(chan OverallEvent, buffer),
		StatusC:   make(chan StatusEvent, buffer),
		LogC:      make(chan string, buffer),
		Done:      make(chan struct{}),
	}
}

func (c *Channels) Progress(fileName string, percent int) {
	c.ProgressC <- ProgressEvent{FileName: fileName, Percent: percent}
}

func (c *Channels) Overall(done, total int) {
	c.OverallC <- OverallEvent{Done: done, Total: total}
}

func (c *Channels) Status(fileName string, status download.Status, err error) {
	c.StatusC <- StatusEvent{FileName: fileName, Status: status, Err: err}
}

func (c *Channels) Log(line string) {
	c.LogC <- line
}

func (c *Channels) Complete() {
	c.once.Do(func() { close(c.Done) })
}

// NopObserver drops every signal.
type NopObserver struct{}

func (NopObserver) Progress(string, int)                  {}
func (NopObserver) Overall(int, int)                      {}
func (NopObserver) Status(string, download.Status, error) {}
func (NopObserver) Log(string)                            {}
func (NopObserver) Complete()                             {}
