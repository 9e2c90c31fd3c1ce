package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Console prints the short human-facing lines that accompany the structured
// log: task start and finish, failure banners, the watching banner.
type Console struct {
	out   io.Writer
	mu    sync.Mutex
	quiet bool
}

// NewConsole creates a console writing to out. A nil out writes to stdout.
func NewConsole(out io.Writer, quiet bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, quiet: quiet}
}

func (c *Console) printf(format string, args ...interface{}) {
	if c == nil || c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] ", color.Gray.Sprint(time.Now().Format("15:04:05")))
	fmt.Fprintf(c.out, format, args...)
	fmt.Fprintln(c.out)
}

// Starting announces a task or producer run.
func (c *Console) Starting(name string) {
	c.printf("Starting '%s'...", color.Cyan.Sprint(name))
}

// Finished announces a completed run and its duration.
func (c *Console) Finished(name string, d time.Duration) {
	c.printf("Finished '%s' after %s", color.Cyan.Sprint(name), color.Magenta.Sprint(d.Round(time.Millisecond)))
}

// Failure prints the red failure banner for a producer error.
func (c *Console) Failure(task string, err error) {
	c.printf("%s %s", color.New(color.BgRed, color.FgWhite).Sprintf(" %s error: ", task), color.Red.Sprint(err))
}

// Watching prints the green banner shown once the dispatcher is resident.
func (c *Console) Watching() {
	c.printf("%s", color.New(color.BgGreen, color.FgBlack).Sprint(" Watching for changes... "))
}

// Info prints a plain line.
func (c *Console) Info(format string, args ...interface{}) {
	c.printf(format, args...)
}
