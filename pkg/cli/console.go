package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/kilnproject/kiln/pkg/types"
)

// ConsoleRenderer turns progress events into terminal output. It is
// meant to sit behind a BufferedSink, so Publish runs on a single
// goroutine; the mutex only guards against interleaving with direct
// prints.
type ConsoleRenderer struct {
	out     io.Writer
	mu      sync.Mutex
	lastPct map[string]int
}

// NewConsoleRenderer creates a renderer writing to out
func NewConsoleRenderer(out io.Writer) *ConsoleRenderer {
	return &ConsoleRenderer{out: out, lastPct: make(map[string]int)}
}

// Publish prints one event. Byte-level fetch progress is throttled to
// 10% increments so large downloads do not flood the terminal.
func (c *ConsoleRenderer) Publish(event types.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pkg := color.New(color.FgBlue, color.Bold).Sprintf("[%s]", event.Package)

	switch event.Phase {
	case types.PhaseQueued:
		fmt.Fprintf(c.out, "%s %s\n", pkg, color.New(color.Faint).Sprint("queued"))
	case types.PhaseFetching:
		if event.Total > 0 && event.Current >= 0 {
			pct := int(event.Current * 100 / event.Total)
			if pct < c.lastPct[event.Package]+10 && pct != 100 {
				return
			}
			c.lastPct[event.Package] = pct
			fmt.Fprintf(c.out, "%s fetching %s (%d%%)\n", pkg, event.Message, pct)
			return
		}
		if event.Message != "" {
			fmt.Fprintf(c.out, "%s fetching: %s\n", pkg, event.Message)
		}
	case types.PhaseExtracting:
		fmt.Fprintf(c.out, "%s extracting %s\n", pkg, event.Message)
	case types.PhaseBuilding:
		if event.Total > 0 && event.Current >= event.Total {
			return
		}
		if event.Total > 0 {
			fmt.Fprintf(c.out, "%s step %d/%d: %s\n", pkg, event.Current+1, event.Total, event.Message)
		}
	case types.PhaseDone:
		fmt.Fprintf(c.out, "%s %s\n", pkg, color.GreenString("done"))
		delete(c.lastPct, event.Package)
	case types.PhaseFailed:
		fmt.Fprintf(c.out, "%s %s\n", pkg, color.RedString(event.Message))
		delete(c.lastPct, event.Package)
	}
}
