package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	dimColor  = color.New(color.FgHiBlack)
)

// ProgressPrinter keeps one status line updated with the elapsed time, or
// the remaining time when a countdown is set.
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to AA:BB:CC:DD:EE:FF", 0)
//	p.Start()
//	defer p.Stop()
type ProgressPrinter struct {
	w         io.Writer
	prefix    string
	countdown time.Duration

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func NewProgressPrinter(w io.Writer, prefix string, countdown time.Duration) *ProgressPrinter {
	return &ProgressPrinter{
		w:         w,
		prefix:    prefix,
		countdown: countdown,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (p *ProgressPrinter) Start() {
	start := time.Now()
	p.print(0)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				if p.countdown > 0 {
					remaining := p.countdown - elapsed
					if remaining < 0 {
						remaining = 0
					}
					// round to the nearest second
					p.print(int(remaining.Seconds() + 0.5))
				} else {
					p.print(int(elapsed.Seconds()))
				}
			}
		}
	}()
}

func (p *ProgressPrinter) print(seconds int) {
	if seconds > 0 {
		_, _ = dimColor.Fprintf(p.w, "\r%s (%ds)   ", p.prefix, seconds)
	} else {
		_, _ = dimColor.Fprintf(p.w, "\r%s...   ", p.prefix)
	}
}

// Stop clears the line. It is safe to call more than once, but only after Start.
func (p *ProgressPrinter) Stop() {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		fmt.Fprint(p.w, clearLineSequence)
	})
}
