// Package elog is the logging/progress wrapper used by the formatter
// (internal/sofs/format) and by cmd/mkfs, which drives it.
//
// Adapted from pkg/elog/logger.go: same Logger/Progress/ProgressReporter
// split and the same logrus+fatih/color+mpb stack, trimmed of the
// byte-stream (io.Writer/io.Seeker) progress modes the original used for
// proxying a file-tree compiler's output -- this formatter only ever
// reports a cluster count, so Progress here is just Increment/Finish.
package elog

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is the subset of logging levels the engine and its CLIs use.
type Logger interface {
	Debugf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
	Printf(format string, x ...interface{})
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

// Progress reports incremental completion of a long-running operation
// (formatting a large device) with a unit count known up front.
type Progress interface {
	Increment(n int64)
	Finish(success bool)
}

// ProgressReporter creates Progress trackers.
type ProgressReporter interface {
	NewProgress(label string, total int64) Progress
}

// View bundles logging and progress reporting, the single object a
// formatter or mount command needs.
type View interface {
	Logger
	ProgressReporter
}

// CLI is a terminal-backed View: logrus for log lines, colourised via
// fatih/color, mpb for progress bars, exactly as the teacher wires them.
type CLI struct {
	DisableColors bool
	DisableTTY    bool
	IsDebug       bool
	IsVerbose     bool

	lock      sync.Mutex
	tracking  bool
	bars      map[*mpb.Bar]bool
	buffer    *bytes.Buffer
	container *mpb.Progress
}

func (c *CLI) Debugf(format string, x ...interface{}) {
	if c.IsDebug {
		logrus.Tracef(format, x...)
	}
}

func (c *CLI) Infof(format string, x ...interface{}) {
	if c.IsVerbose {
		logrus.Debugf(format, x...)
	}
}

func (c *CLI) Warnf(format string, x ...interface{}) {
	logrus.Warnf(format, x...)
}

func (c *CLI) Errorf(format string, x ...interface{}) {
	logrus.Errorf(format, x...)
}

func (c *CLI) Printf(format string, x ...interface{}) {
	logrus.Printf(format, x...)
}

func (c *CLI) IsDebugEnabled() bool { return logrus.IsLevelEnabled(logrus.DebugLevel) }
func (c *CLI) IsInfoEnabled() bool  { return logrus.IsLevelEnabled(logrus.InfoLevel) }

// NewProgress creates a progress bar tracking total units (e.g. clusters
// zero-filled during a format). Returns a no-op tracker when output isn't
// a TTY, the way the teacher's NewProgress falls back for scripted runs.
func (c *CLI) NewProgress(label string, total int64) Progress {
	if c.DisableTTY {
		return &nilProgress{}
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.tracking {
		c.tracking = true
		c.buffer = new(bytes.Buffer)
		logrus.SetOutput(c.buffer)
		c.container = mpb.New(mpb.WithWidth(80))
		c.bars = make(map[*mpb.Bar]bool)
	}

	bar := c.container.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done"),
		),
		mpb.AppendDecorators(decor.Percentage()),
	)
	c.bars[bar] = true

	return &pb{cli: c, bar: bar, total: total}
}

type pb struct {
	cli    *CLI
	bar    *mpb.Bar
	total  int64
	cursor int64
	closed bool
}

func (p *pb) Increment(n int64) {
	p.cursor += n
	p.bar.IncrInt64(n)
}

func (p *pb) Finish(success bool) {
	if p.closed {
		return
	}
	p.closed = true
	if p.cursor != p.total || !success {
		p.bar.Abort(false)
	}

	p.cli.lock.Lock()
	defer p.cli.lock.Unlock()
	delete(p.cli.bars, p.bar)
	if len(p.cli.bars) == 0 {
		p.cli.bars = nil
		p.cli.tracking = false
		p.cli.container.Wait()
		p.cli.container = nil
		logrus.SetOutput(os.Stdout)
		_, _ = p.cli.buffer.WriteTo(os.Stdout)
		p.cli.buffer = nil
	}
}

type nilProgress struct{}

func (*nilProgress) Increment(n int64)  {}
func (*nilProgress) Finish(success bool) {}

// Format renders a logrus entry the way the teacher's terminal formatter
// does: colourised by level, uncolourised when DisableColors is set.
func (c *CLI) Format(entry *logrus.Entry) ([]byte, error) {
	x := entry.Message
	if !c.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel:
			x = color.New(color.Faint).Sprint(x)
		case logrus.DebugLevel:
			x = color.New(color.FgBlue).Sprint(x)
		case logrus.WarnLevel:
			x = color.New(color.FgYellow).Sprint(x)
		case logrus.ErrorLevel:
			x = color.New(color.FgRed).Sprint(x)
		}
	}
	return []byte(fmt.Sprintf("%s\n", x)), nil
}
