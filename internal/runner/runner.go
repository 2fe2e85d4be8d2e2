// Package runner launches one external command and narrates its execution
// as a stream of events.
//
// The runner knows nothing about what the command does: it is a generic
// "run and narrate" primitive. Output lines are surfaced as they arrive,
// not after the process exits, so a caller can render live logs from a
// long-running tool. A non-zero exit produces a single error event and a
// typed error; the runner never retries.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkoutso/photoforge/internal/event"
)

// tailLines is how many trailing output lines are kept on ExitError for
// failure reports.
const tailLines = 20

// maxLineBytes bounds a single captured output line.
const maxLineBytes = 1024 * 1024

// Options shapes one invocation's narration.
type Options struct {
	// StageName, when non-empty, emits a stage-complete event on success
	// and names the finishing status message.
	StageName string
	// Group tags the stage-complete event's pipeline phase.
	Group event.Group
	// Start and End bound the stage's progress range: the announcement
	// and every log line pin at Start, completion reports End. Progress
	// is never interpolated within a stage.
	Start, End int
}

// ExitError reports a failed external command: the argument vector, the
// exit code, and the last lines of merged output.
type ExitError struct {
	Argv []string
	Code int
	Tail []string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %s exited with code %d", strings.Join(e.Argv, " "), e.Code)
}

// Exec launches and narrates one external command. The reconstruction
// orchestrator takes an Exec value so tests can substitute a fake
// toolchain for the real binary.
type Exec func(ctx context.Context, emit func(event.Event), argv []string, opts Options) error

// Run executes argv with stdout and stderr merged into one stream. It
// emits one status event announcing the command, one log event per output
// line as it becomes available, then either a stage-complete plus a
// finishing status event, or a single error event carrying the exit code.
//
// Cancelling ctx kills the process.
func Run(ctx context.Context, emit func(event.Event), argv []string, opts Options) error {
	start := time.Now()
	joined := strings.Join(argv, " ")
	emit(event.Status("Running: "+joined, opts.Start))

	log.Info().
		Str("command", argv[0]).
		Str("stage", opts.StageName).
		Msg("Launching external command")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	pr, pw, err := os.Pipe()
	if err != nil {
		emit(event.Error(fmt.Sprintf("Command %s failed to start: %v", joined, err), opts.Start))
		return fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		emit(event.Error(fmt.Sprintf("Command %s failed to start: %v", joined, err), opts.Start))
		return fmt.Errorf("start %s: %w", argv[0], err)
	}
	// The child now holds the write end; closing ours lets the scanner
	// observe EOF when the child exits.
	pw.Close()

	var tail []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		emit(event.Log(line, opts.Start))
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	}
	scanErr := scanner.Err()
	pr.Close()

	err = cmd.Wait()
	duration := time.Since(start)
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}

		log.Error().
			Str("command", argv[0]).
			Int("exit_code", code).
			Dur("duration", duration).
			Msg("External command failed")

		ev := event.Error(fmt.Sprintf("Command %s exited with code %d", joined, code), opts.Start)
		ev.ExitCode = code
		emit(ev)
		return &ExitError{Argv: argv, Code: code, Tail: tail}
	}
	if scanErr != nil {
		// The process succeeded; a capture glitch is not a stage failure.
		log.Warn().Err(scanErr).Str("command", argv[0]).Msg("Output capture ended early")
	}

	name := opts.StageName
	if name != "" {
		emit(event.Event{
			Kind:      event.KindStageDone,
			Group:     opts.Group,
			StageName: opts.StageName,
			Progress:  opts.End,
		})
	} else {
		name = "command"
	}
	emit(event.Status(name+" finished", opts.End))

	log.Info().
		Str("command", argv[0]).
		Str("stage", opts.StageName).
		Dur("duration", duration).
		Msg("External command complete")

	return nil
}
