package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// maxWorkerMessage bounds a single line of worker output. Snapshots carry
// queued artifacts inline, so lines can be large.
const maxWorkerMessage = 256 << 20

// WorkerCommand builds the command that serves one worker request.
type WorkerCommand func(ctx context.Context) (*exec.Cmd, error)

// SelfWorkerCommand re-executes the running binary with the worker
// subcommand followed by args.
func SelfWorkerCommand(args ...string) WorkerCommand {
	return func(ctx context.Context) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		return exec.CommandContext(ctx, exe, append([]string{"worker"}, args...)...), nil
	}
}

// processDispatcher runs each service in a child worker process and mirrors
// the worker's task snapshots onto the parent's task.
type processDispatcher struct {
	command WorkerCommand
	logger  *logger.Logger
}

func (d *processDispatcher) dispatch(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := d.execute(ctx, r); err != nil {
			d.logger.Error(ctx, "worker process failed",
				"service", r.service.Definition().Name,
				"task_id", r.task.ID().String(),
				"error", err,
			)
			r.task.AppendLog(domain.LogError, fmt.Sprintf("Worker process failed: %v", err))
			r.task.Finish()
		}
		r.complete(ctx, r.task)
	}()
}

// execute returns nil only when the worker delivered its finish message.
func (d *processDispatcher) execute(ctx context.Context, r *run) error {
	target, err := domain.SnapshotObject(ctx, r.task.Target(), r.service.Definition().RequiredFields)
	if err != nil {
		return fmt.Errorf("snapshotting object: %w", err)
	}
	payload, err := json.Marshal(WorkerRequest{
		Service:     r.service.Definition().Name,
		Config:      r.config,
		Task:        r.task.Snapshot(),
		Object:      target,
		NotifyRate:  float64(r.notifyRate.limit),
		NotifyBurst: r.notifyRate.burst,
	})
	if err != nil {
		return fmt.Errorf("encoding worker request: %w", err)
	}

	cmd, err := d.command(ctx)
	if err != nil {
		return err
	}
	cmd.Stdin = bytes.NewReader(payload)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.forwardStderr(ctx, r, stderr)
	}()

	finished, readErr := d.readMessages(ctx, r, stdout)
	// Drain so the worker never blocks on a full pipe before Wait.
	_, _ = io.Copy(io.Discard, stdout)
	wg.Wait()
	waitErr := cmd.Wait()

	switch {
	case finished:
		if waitErr != nil {
			d.logger.Warn(ctx, "worker exited with error after finishing", "task_id", r.task.ID().String(), "error", waitErr)
		}
		return nil
	case readErr != nil:
		return readErr
	case waitErr != nil:
		return fmt.Errorf("worker exited: %w", waitErr)
	default:
		return errors.New("worker exited without finishing the task")
	}
}

func (d *processDispatcher) readMessages(ctx context.Context, r *run, stdout io.Reader) (bool, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), maxWorkerMessage)

	finished := false
	for scanner.Scan() {
		var msg WorkerMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			d.logger.Warn(ctx, "ignoring malformed worker message", "task_id", r.task.ID().String(), "error", err)
			continue
		}
		if err := r.task.ApplySnapshot(msg.Task); err != nil {
			return finished, fmt.Errorf("applying worker snapshot: %w", err)
		}

		switch msg.Kind {
		case WorkerUpdate:
			r.notify(ctx, r.task)
		case WorkerFinish:
			finished = true
		default:
			d.logger.Warn(ctx, "unknown worker message kind", "kind", string(msg.Kind))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return finished, fmt.Errorf("reading worker output: %w", err)
	}
	return finished, nil
}

func (d *processDispatcher) forwardStderr(ctx context.Context, r *run, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		d.logger.Info(ctx, "worker output",
			"service", r.service.Definition().Name,
			"task_id", r.task.ID().String(),
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		d.logger.Error(ctx, "processing worker stderr", "error", err)
	}
}
