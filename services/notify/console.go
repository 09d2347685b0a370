// Package notify provides the user-facing surfaces build and publish operations report to.
package notify

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// Console prints reports to a terminal. Repeated progress values for the same label are collapsed.
type Console struct {
	mu        sync.Mutex
	out       io.Writer
	lastLabel string
	lastPct   int
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out, lastPct: -1}
}

func (c *Console) ReportProgress(progress float64, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pct := int(math.Floor(progress * 100))
	if label == c.lastLabel && pct == c.lastPct {
		return
	}
	c.lastLabel, c.lastPct = label, pct
	fmt.Fprintf(c.out, "%s %s%%\n", color.CyanString(label), humanize.FtoaWithDigits(progress*100, 1))
}

func (c *Console) ReportError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLabel, c.lastPct = "", -1
	fmt.Fprintf(c.out, "%s %s\n", color.RedString("Error:"), message)
}

func (c *Console) ReportSuccess(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastLabel, c.lastPct = "", -1
	fmt.Fprintf(c.out, "%s %s\n", color.HiGreenString("OK"), message)
}
