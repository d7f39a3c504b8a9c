package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/internal/observability"
	"github.com/upb/kafka-control-plane/services"
	"go.uber.org/zap"
)

// Dispatcher starts executions idempotently. Dispatching the same request
// twice never yields two executions: the workflow id is derived from the
// request id, the execution store records it before publishing and the
// broker drops duplicate message ids.
type Dispatcher struct {
	store     ExecutionStore
	publisher Publisher
	subjects  Subjects
	timeout   time.Duration
	metrics   observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(store ExecutionStore, publisher Publisher, subjects Subjects, timeout time.Duration, metrics observability.Metrics, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop{}
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		subjects:  subjects,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// DispatchProvisioning starts, or attaches to, the creation execution of a request
func (d *Dispatcher) DispatchProvisioning(ctx context.Context, job ProvisioningJob) (string, error) {
	workflowID := ProvisionWorkflowID(job.RequestID)
	env := &Envelope{WorkflowID: workflowID, Kind: JobKindProvision, Provisioning: &job}
	return d.dispatch(ctx, job.RequestID, env)
}

// DispatchDeletion starts, or attaches to, the deletion execution of a request
func (d *Dispatcher) DispatchDeletion(ctx context.Context, job DeletionJob) (string, error) {
	workflowID := DeletionWorkflowID(job.RequestID)
	env := &Envelope{WorkflowID: workflowID, Kind: JobKindDelete, Deletion: &job}
	return d.dispatch(ctx, job.RequestID, env)
}

func (d *Dispatcher) dispatch(ctx context.Context, requestID uuid.UUID, env *Envelope) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	workflowID := env.WorkflowID
	logger := d.logger.With(
		zap.String("workflow_id", workflowID),
		zap.String("request_id", requestID.String()))

	exec, found, err := d.store.Get(ctx, workflowID)
	if err != nil {
		d.metrics.IncDispatch(string(env.Kind), "error")
		return "", services.WrapDispatch("failed to look up execution", err)
	}

	if !found {
		now := d.now().UTC()
		exec = &Execution{
			WorkflowID: workflowID,
			RequestID:  requestID,
			Kind:       env.Kind,
			State:      ExecutionStarting,
			Run:        1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		created, err := d.store.CreateIfAbsent(ctx, exec)
		if err != nil {
			d.metrics.IncDispatch(string(env.Kind), "error")
			return "", services.WrapDispatch("failed to record execution", err)
		}
		if !created {
			// a concurrent dispatch won the race
			exec, found, err = d.store.Get(ctx, workflowID)
			if err != nil || !found {
				d.metrics.IncDispatch(string(env.Kind), "error")
				return "", services.WrapDispatch("failed to look up execution", err)
			}
		}
	}

	switch {
	case exec.State == ExecutionStarting:
		if err := d.publishJob(ctx, env, exec); err != nil {
			logger.Warn("failed to publish workflow job", zap.Error(err))
			d.metrics.IncDispatch(string(env.Kind), "error")
			return "", services.WrapDispatch("workflow engine unavailable", err)
		}
		logger.Info("workflow dispatched", zap.Int("attempts", exec.Attempts))
		d.metrics.IncDispatch(string(env.Kind), "started")

	case exec.State == ExecutionFailed:
		// the request re-entered a dispatching status after a failed run
		exec.Run++
		exec.State = ExecutionStarting
		if err := d.publishJob(ctx, env, exec); err != nil {
			logger.Warn("failed to publish workflow job", zap.Error(err))
			d.metrics.IncDispatch(string(env.Kind), "error")
			return "", services.WrapDispatch("workflow engine unavailable", err)
		}
		logger.Info("workflow restarted", zap.Int("run", exec.Run))
		d.metrics.IncDispatch(string(env.Kind), "restarted")

	case exec.State == ExecutionSucceeded:
		logger.Debug("execution already succeeded")
		d.metrics.IncDispatch(string(env.Kind), "finished")

	default:
		if err := d.Signal(ctx, workflowID, SignalAttach, nil); err != nil {
			d.metrics.IncDispatch(string(env.Kind), "error")
			return "", err
		}
		logger.Info("attached to running workflow")
		d.metrics.IncDispatch(string(env.Kind), "attached")
	}

	return workflowID, nil
}

func (d *Dispatcher) publishJob(ctx context.Context, env *Envelope, exec *Execution) error {
	env.Run = exec.Run
	env.IssuedAt = d.now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := d.publisher.Publish(ctx, d.subjects.Job(env.Kind), exec.MessageID(), data); err != nil {
		return err
	}

	exec.State = ExecutionAccepted
	exec.Attempts++
	exec.UpdatedAt = d.now().UTC()
	if err := d.store.Save(ctx, exec); err != nil {
		// the job is out; a later dispatch republishes and the broker dedups
		d.logger.Warn("failed to mark execution accepted",
			zap.String("workflow_id", exec.WorkflowID),
			zap.Error(err))
	}
	return nil
}

// Signal sends a named signal to an in-flight execution
func (d *Dispatcher) Signal(ctx context.Context, workflowID, name string, payload map[string]interface{}) error {
	data, err := json.Marshal(SignalMessage{
		WorkflowID: workflowID,
		Name:       name,
		Payload:    payload,
		SentAt:     d.now().UTC(),
	})
	if err != nil {
		return services.WrapInternal("failed to encode signal", err)
	}
	if err := d.publisher.Publish(ctx, d.subjects.Signal(workflowID), "", data); err != nil {
		return services.WrapDispatch("failed to signal workflow", err)
	}
	return nil
}

// Complete marks an execution finished. Missing records are recreated so
// later dispatches for the same request do not start a new execution. A
// result from a run older than the recorded one is ignored.
func (d *Dispatcher) Complete(ctx context.Context, result Result) error {
	exec, found, err := d.store.Get(ctx, result.WorkflowID)
	if err != nil {
		return err
	}
	now := d.now().UTC()
	if !found {
		exec = &Execution{
			WorkflowID: result.WorkflowID,
			RequestID:  result.RequestID,
			Kind:       result.Kind,
			Run:        result.Run,
			CreatedAt:  now,
		}
	}
	if exec.IsStale(result) {
		d.logger.Info("ignoring result of superseded run",
			zap.String("workflow_id", result.WorkflowID),
			zap.Int("result_run", result.Run),
			zap.Int("current_run", exec.Run))
		return nil
	}
	exec.State = ExecutionFailed
	if result.Outcome == OutcomeSucceeded {
		exec.State = ExecutionSucceeded
	}
	exec.UpdatedAt = now
	return d.store.Save(ctx, exec)
}

// IsStale reports whether result belongs to a run that has since been
// replaced by a newer one. Unknown executions are never stale.
func (d *Dispatcher) IsStale(ctx context.Context, result Result) (bool, error) {
	exec, found, err := d.store.Get(ctx, result.WorkflowID)
	if err != nil {
		return false, services.WrapDispatch("failed to look up execution", err)
	}
	return found && exec.IsStale(result), nil
}

// Ping checks the execution store is reachable
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}
