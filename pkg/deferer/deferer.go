// Package deferer lets daemons run their cleanup before a fatal exit. A fatal
// log calls os.Exit, which skips deferred calls; releasing locks and closing
// queue connections still has to happen.
package deferer

import (
	"path/filepath"
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Deferer holds deferred functions and an optional parent whose functions are
// run after its own on a fatal exit
type Deferer struct {
	// Logger receives fatal entries, the standard logger when nil
	Logger *log.Logger

	parent *Deferer
	fns    []func()
	ran    bool
}

// NewDeferer returns a Deferer chained to parent, which may be nil
func NewDeferer(parent *Deferer) *Deferer {
	d := &Deferer{
		parent: parent,
		fns:    make([]func(), 0),
	}
	if parent != nil {
		d.Logger = parent.Logger
	}
	return d
}

// Defer adds f to the functions to run
func (d *Deferer) Defer(f func()) {
	d.fns = append(d.fns, f)
}

// Run calls the deferred functions in reverse order, once. Common usage is
// `defer d.Run()` right after creating the Deferer.
func (d *Deferer) Run() {
	if d.ran {
		return
	}
	d.ran = true

	for i := len(d.fns) - 1; i >= 0; i-- {
		d.fns[i]()
	}
}

// Fatal runs this and every parent's deferred functions then logs err at
// fatal level, which exits
func (d *Deferer) Fatal(err error, msg string) {
	d.fatal(2, log.Fields{}, err, msg)
}

// FatalWithFields is Fatal with additional log fields
func (d *Deferer) FatalWithFields(fields log.Fields, err error, msg string) {
	d.fatal(2, fields, err, msg)
}

func (d *Deferer) fatal(skip int, fields log.Fields, err error, msg string) {
	for current := d; current != nil; current = current.parent {
		current.Run()
	}

	logger := d.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	if _, file, line, ok := runtime.Caller(skip); ok {
		fields["file"] = filepath.Base(file)
		fields["line"] = line
	}
	entry := logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Fatal(msg)
}
