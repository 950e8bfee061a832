// Package worker adapts asynq task delivery to the orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/reelforge/api/internal/orchestrator"
	"github.com/reelforge/api/internal/service"
)

// JobWorker processes orchestration tasks
type JobWorker struct {
	orchestrator *orchestrator.Orchestrator
}

func NewJobWorker(orch *orchestrator.Orchestrator) *JobWorker {
	return &JobWorker{orchestrator: orch}
}

// ProcessTask runs one job to a terminal state. Returning an error here
// would make asynq retry the whole pipeline, so only infrastructure
// failures (missing record, lost claim) propagate; the task itself has
// MaxRetry 0 and per-stage retries live inside the orchestrator.
func (w *JobWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.OrchestrateTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("[Worker] Starting job: %s", payload.JobID)
	if err := w.orchestrator.Run(ctx, payload.JobID); err != nil {
		log.Printf("[Worker] Job %s aborted: %v", payload.JobID, err)
		return err
	}
	return nil
}
