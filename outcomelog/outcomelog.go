// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package outcomelog provides an append-only, human readable, log of
// certificate update attempts. Each attempt is recorded as a single line:
//
//	<domain> | <Updated Successfully|Error during update> | <RFC3339 time>
//
// Appends are made under an exclusive file lock so that concurrent
// writers never interleave partial lines and the log is never truncated.
package outcomelog

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/os/lockedfile"
)

// ErrNoLog is returned when the log has not yet been written to.
var ErrNoLog = errors.New("no log file exists")

const (
	// UpdatedText is recorded for successful updates.
	UpdatedText = "Updated Successfully"
	// FailedText is recorded for failed updates.
	FailedText = "Error during update"

	separator = " | "
)

// Entry represents a single log entry.
type Entry struct {
	Domain  string
	Success bool
	Time    time.Time
}

// String returns the entry formatted as it is written to the log,
// without a trailing newline.
func (e Entry) String() string {
	outcome := FailedText
	if e.Success {
		outcome = UpdatedText
	}
	return e.Domain + separator + outcome + separator + e.Time.Format(time.RFC3339)
}

// ParseLine parses a single line of the log.
func ParseLine(line string) (Entry, error) {
	parts := strings.Split(strings.TrimSpace(line), separator)
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("malformed log entry: %q", line)
	}
	var e Entry
	e.Domain = parts[0]
	switch parts[1] {
	case UpdatedText:
		e.Success = true
	case FailedText:
	default:
		return Entry{}, fmt.Errorf("malformed log entry: unrecognised outcome %q", parts[1])
	}
	t, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed log entry: %w", err)
	}
	e.Time = t
	return e, nil
}

// Log represents a log file.
type Log struct {
	path string
}

// New returns a Log that uses the specified file. Neither the file nor
// its directory need exist until the first call to Append.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the name of the log file.
func (l *Log) Path() string {
	return l.path
}

// Append appends an entry to the log, creating the log file and its
// parent directory if necessary.
func (l *Log) Append(ctx context.Context, domain string, success bool, when time.Time) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("outcomelog: %w", err)
	}
	f, err := lockedfile.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("outcomelog: %w", err)
	}
	entry := Entry{Domain: domain, Success: success, Time: when}
	if _, err := f.WriteString(entry.String() + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("outcomelog: %v: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("outcomelog: %v: %w", l.path, err)
	}
	ctxlog.Debug(ctx, "outcomelog: appended", "file", l.path, "entry", entry.String())
	return nil
}

func (l *Log) read() ([]byte, error) {
	data, err := lockedfile.Read(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoLog
		}
		return nil, fmt.Errorf("outcomelog: %w", err)
	}
	return data, nil
}

// Dump copies the contents of the log, unmodified, to w.
func (l *Log) Dump(w io.Writer) error {
	data, err := l.read()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Entries returns all of the entries in the log. Lines that cannot be
// parsed are reported in the returned error, which is an errors.M,
// but do not prevent the remaining entries from being returned.
func (l *Log) Entries() ([]Entry, error) {
	data, err := l.read()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	var errs errors.M
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		e, err := ParseLine(line)
		if err != nil {
			errs.Append(fmt.Errorf("line %v: %w", n, err))
			continue
		}
		entries = append(entries, e)
	}
	errs.Append(sc.Err())
	return entries, errs.Err()
}
