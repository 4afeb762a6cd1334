// Package logging sets up the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/journald"
)

// Options configures New
type Options struct {
	// Level is a zerolog level name, "info" when empty
	Level string

	// Debug forces the debug level
	Debug bool

	// Journal also sends entries to the systemd journal when it is reachable
	Journal bool

	// Out is the console output, stderr when nil
	Out io.Writer
}

// New builds the logger. When stderr already goes to the journal only the journal
// writer is used so entries are not recorded twice.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level: %w", err)
		}
		level = l
	}
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}

	var w io.Writer = console
	if opts.Journal && journal.Enabled() {
		toJournal := journald.NewJournalDWriter()
		if isStderr(out) && stderrIsJournal() {
			w = toJournal
		} else {
			w = zerolog.MultiLevelWriter(console, toJournal)
		}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func isStderr(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && f == os.Stderr
}

func stderrIsJournal() bool {
	ok, err := journal.StderrIsJournalStream()
	return err == nil && ok
}
