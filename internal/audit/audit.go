package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fleetbot/internal/models"
)

// Log appends one line per event to an access log and syncs it,
// so lines survive an abrupt exit. A nil *Log discards everything.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open prepares the log at path, creating its directory.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return &Log{path: path, now: time.Now}, nil
}

// Path is where lines go.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Log) writeLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return err
	}
	return f.Sync()
}

// JobStarted is written when a job is handed to the worker pool.
func (l *Log) JobStarted(job models.Job) error {
	if l == nil {
		return nil
	}
	return l.writeLine(l.prefix(job) + " status=started\n")
}

// JobFinished is written once per outcome.
func (l *Log) JobFinished(job models.Job, outcome models.Outcome) error {
	if l == nil {
		return nil
	}
	status := "success"
	if !outcome.Succeeded {
		status = "failure"
	}
	line := fmt.Sprintf("%s status=%s took=%s", l.prefix(job), status, outcome.Duration.Round(time.Millisecond))
	if !outcome.Succeeded {
		line += " err=" + escape(firstLine(outcome.Output))
	}
	return l.writeLine(line + "\n")
}

// Denied records an access gate rejection.
func (l *Log) Denied(user int64, token string) error {
	if l == nil {
		return nil
	}
	ts := l.now().UTC().Format(time.RFC3339)
	return l.writeLine(fmt.Sprintf("%s denied user=%d action=%s\n", ts, user, escape(token)))
}

func (l *Log) prefix(job models.Job) string {
	ts := l.now().UTC().Format(time.RFC3339)
	machine := "all"
	if job.Single() {
		machine = models.MachineLabel(job.Machine)
	}
	return fmt.Sprintf("%s execute id=%s user=%d server=%s name=%s host=%s machine=%s address=%s mode=%s",
		ts, job.ID, job.User, escape(job.Server.ID), escape(job.Server.Name), job.Server.Addr(), machine, orDash(job.Address), job.Mode)
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func escape(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "\t", "_")
	if strings.ContainsAny(s, "\n\"\\") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
