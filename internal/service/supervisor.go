package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gitmine/gitmine/internal/audit"
	"github.com/gitmine/gitmine/internal/model"
	"github.com/gitmine/gitmine/internal/protocol"
	"github.com/gitmine/gitmine/internal/registry"
	"github.com/gitmine/gitmine/internal/tooling"
)

// artifactExt is the only extension workers may declare as a deliverable.
const artifactExt = ".csv"

// maxLineBytes caps how much of a single worker output line is retained.
// Longer lines are truncated and drained, they never stop the read loop.
const maxLineBytes = 1024 * 1024

type Supervisor struct {
	registry *registry.Registry
	audit    *audit.Log
	workDir  string // base for resolving relative output declarations
}

func NewSupervisor(reg *registry.Registry, auditLog *audit.Log, workDir string) *Supervisor {
	return &Supervisor{
		registry: reg,
		audit:    auditLog,
		workDir:  workDir,
	}
}

// Run executes the worker for jobID to completion and keeps its registry
// entry synchronized in real time. Meant to run on its own goroutine; it
// never returns an error, every failure ends up as the job's terminal state.
func (s *Supervisor) Run(ctx context.Context, jobID string, inv tooling.Invocation) {
	job, err := s.registry.Snapshot(jobID)
	if err != nil {
		slog.ErrorContext(ctx, "supervisor started for unregistered job", "job_id", jobID, "error", err)
		return
	}

	s.registry.SetRunning(jobID, "Starting...")

	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if cmd.Dir == "" {
		// same base the relative output declarations resolve against
		cmd.Dir = s.workDir
	}
	if len(inv.Env) > 0 {
		// extend rather than replace, workers still need PATH and friends
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	// one pipe for both streams, so lines arrive in the order the worker
	// flushed them
	pr, pw, err := os.Pipe()
	if err != nil {
		s.finish(ctx, jobID, model.StatusFailed, fmt.Sprintf("Exception: %v", err))
		return
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		s.finish(ctx, jobID, model.StatusFailed, fmt.Sprintf("Exception: %v", err))
		return
	}
	// the child holds its own copy of the write end
	_ = pw.Close()

	slog.DebugContext(ctx, "worker started", "job_id", jobID, "pid", cmd.Process.Pid)

	reader := bufio.NewReaderSize(pr, 64*1024)
	for {
		line, err := readLine(reader)
		s.apply(ctx, jobID, job.OutputDir, line)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.WarnContext(ctx, "reading worker output", "job_id", jobID, "error", err)
			}
			break
		}
	}
	_ = pr.Close()

	err = cmd.Wait()
	switch {
	case err == nil:
		s.finish(ctx, jobID, model.StatusSucceeded, "Done.")
	case cmd.ProcessState != nil && cmd.ProcessState.Exited():
		s.finish(ctx, jobID, model.StatusFailed,
			fmt.Sprintf("Exited with code %d", cmd.ProcessState.ExitCode()))
	default:
		s.finish(ctx, jobID, model.StatusFailed, fmt.Sprintf("Exception: %v", err))
	}
}

// readLine returns the next worker line without its terminator. Anything past
// maxLineBytes is discarded, keeping the truncated prefix as the log entry.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if room := maxLineBytes - len(buf); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			return string(buf), err
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// apply feeds one worker output line through the progress protocol.
func (s *Supervisor) apply(ctx context.Context, jobID, outputDir, line string) {
	event := protocol.ParseLine(line)
	if event.Kind == protocol.KindBlank {
		return
	}

	s.registry.AppendLog(jobID, line)

	switch event.Kind {
	case protocol.KindProgress:
		s.registry.SetProgress(jobID, event.Pct, event.Msg)
	case protocol.KindOutput:
		name, ok := s.resolveOutput(outputDir, event.Path)
		if !ok {
			slog.DebugContext(ctx, "ignoring output declaration", "job_id", jobID, "path", event.Path)
			return
		}
		s.registry.AddOutputFile(jobID, name)
	}
}

// resolveOutput validates a declared deliverable: the file must exist and
// carry the artifact extension. The recorded name is relative to the job's
// output directory when the file lives inside it, absolute otherwise.
func (s *Supervisor) resolveOutput(outputDir, declared string) (string, bool) {
	path := declared
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.workDir, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	if !strings.EqualFold(filepath.Ext(path), artifactExt) {
		return "", false
	}
	rel, err := filepath.Rel(outputDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path, true
	}
	return rel, true
}

// finish records the terminal state and writes the end-of-job audit entry.
func (s *Supervisor) finish(ctx context.Context, jobID string, status model.JobStatus, message string) {
	s.registry.Finish(jobID, status, message)

	job, err := s.registry.Snapshot(jobID)
	if err != nil {
		slog.ErrorContext(ctx, "finished job vanished from registry", "job_id", jobID, "error", err)
		return
	}

	var duration time.Duration
	if !job.StartedAt.IsZero() && !job.EndedAt.IsZero() {
		duration = job.EndedAt.Sub(job.StartedAt)
	}

	entry := model.AuditEntry{
		TS:          float64(time.Now().UnixMilli()) / 1000,
		JobID:       job.ID,
		Tool:        job.Tool,
		Params:      job.Params,
		MaskedToken: job.MaskedToken,
		Status:      string(job.Status),
		DurationSec: duration.Seconds(),
		Progress:    job.Progress,
		Outputs:     job.OutputFiles,
		LastMessage: job.Message,
	}
	// best effort: an audit write failure never fails the job
	if err := s.audit.Append(entry); err != nil {
		slog.WarnContext(ctx, "writing end-of-job audit entry", "job_id", jobID, "error", err)
	}

	slog.InfoContext(ctx, "job finished",
		"job_id", job.ID,
		"tool", job.Tool,
		"status", job.Status,
		"duration", duration,
		"outputs", len(job.OutputFiles),
	)
}
