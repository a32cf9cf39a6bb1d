package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/time/rate"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
)

// WorkerRequest is written by the parent to a worker's stdin as a single JSON document.
type WorkerRequest struct {
	Service     string              `json:"service"`
	Config      domain.Config       `json:"config"`
	Task        domain.TaskSnapshot `json:"task"`
	Object      *domain.Target      `json:"object"`
	NotifyRate  float64             `json:"notify_rate,omitempty"`
	NotifyBurst int                 `json:"notify_burst,omitempty"`
}

// WorkerMessageKind distinguishes intermediate updates from the final message.
type WorkerMessageKind string

const (
	WorkerUpdate WorkerMessageKind = "update"
	WorkerFinish WorkerMessageKind = "finish"
)

// WorkerMessage is written by a worker to stdout, one JSON document per line.
type WorkerMessage struct {
	Kind WorkerMessageKind   `json:"kind"`
	Task domain.TaskSnapshot `json:"task"`
}

// messageWriter serializes worker messages onto a shared stream.
type messageWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func (w *messageWriter) send(kind WorkerMessageKind, t *domain.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	// Encode terminates each document with a newline.
	w.err = w.enc.Encode(WorkerMessage{Kind: kind, Task: t.Snapshot()})
}

// RunWorker serves a single WorkerRequest read from in. It executes the
// requested service against the request's task and streams the task's state
// to out: an update per notification and a finish message once the run ends.
func RunWorker(ctx context.Context, registry *Registry, in io.Reader, out io.Writer) error {
	var req WorkerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decoding worker request: %w", err)
	}
	if req.Object == nil {
		return fmt.Errorf("worker request for task %s has no object", req.Task.ID)
	}

	svc, err := registry.Service(req.Service)
	if err != nil {
		return err
	}
	task, err := domain.RestoreTask(req.Task)
	if err != nil {
		return fmt.Errorf("restoring task: %w", err)
	}
	task.AttachTarget(req.Object)

	w := &messageWriter{enc: json.NewEncoder(out)}
	opts := []domain.ExecutionOption{
		domain.WithNotify(func(_ context.Context, t *domain.Task) { w.send(WorkerUpdate, t) }),
		domain.WithComplete(func(_ context.Context, t *domain.Task) { w.send(WorkerFinish, t) }),
	}
	if req.NotifyBurst > 0 {
		opts = append(opts, domain.WithNotifyLimiter(rate.NewLimiter(rate.Limit(req.NotifyRate), req.NotifyBurst)))
	}

	execution := domain.NewExecution(svc.New(), req.Config, opts...)
	if err := execution.SetTask(task); err != nil {
		return err
	}
	execution.Execute(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return fmt.Errorf("writing worker messages: %w", w.err)
	}
	return nil
}
