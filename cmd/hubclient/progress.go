package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a single status line with a counter and the
// elapsed time, rewritten in place until Stop.
//
//	p := NewProgressPrinter(out, "Sending 10 events", 10)
//	p.Start()
//	defer p.Stop()
//	p.Add(1)
//
// A ProgressPrinter is single-use; Start may be called at most once.
type ProgressPrinter struct {
	out       io.Writer
	prefix    string
	total     int64
	done      atomic.Int64
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	exited    chan struct{}
	started   atomic.Bool
}

// NewProgressPrinter creates a printer counting towards total.
func NewProgressPrinter(out io.Writer, prefix string, total int) *ProgressPrinter {
	return &ProgressPrinter{
		out:    out,
		prefix: prefix,
		total:  int64(total),
	}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.exited = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.print(0)
	go func() {
		defer close(p.exited)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print(int(time.Since(p.startTime).Seconds()))
			}
		}
	}()
}

// Add records n more settled items.
func (p *ProgressPrinter) Add(n int) {
	p.done.Add(int64(n))
}

// Done returns how many items were recorded.
func (p *ProgressPrinter) Done() int {
	return int(p.done.Load())
}

func (p *ProgressPrinter) print(seconds int) {
	fmt.Fprintf(p.out, "\r%s (%d/%d, %ds)   ", p.prefix, p.done.Load(), p.total, seconds)
}

// Stop stops the display and clears the line. Safe to call more than once
// and from several goroutines.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.exited

	fmt.Fprint(p.out, clearLineSequence)
}
