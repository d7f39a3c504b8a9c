package provisioning

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services/notify"
	"github.com/upb/kafka-control-plane/services/workflow"
)

// memRequestRepo keeps requests in memory; Transition is a CAS under one lock
type memRequestRepo struct {
	mu             sync.Mutex
	reqs           map[uuid.UUID]*models.ProvisioningRequest
	setWorkflowErr error
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{reqs: make(map[uuid.UUID]*models.ProvisioningRequest)}
}

func clone(req *models.ProvisioningRequest) *models.ProvisioningRequest {
	c := *req
	c.Violations = append(models.PolicyViolations(nil), req.Violations...)
	return &c
}

func (r *memRequestRepo) Create(ctx context.Context, req *models.ProvisioningRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs[req.ID] = clone(req)
	return nil
}

func (r *memRequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return clone(req), nil
}

func (r *memRequestRepo) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.ProvisioningRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ProvisioningRequest
	for _, req := range r.reqs {
		if req.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, clone(req))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRequestRepo) Transition(ctx context.Context, id uuid.UUID, from []models.RequestStatus, update repositories.StatusUpdate) (*models.ProvisioningRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.reqs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if req.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &repositories.StatusConflictError{Current: req.Status, Allowed: from}
	}

	req.Status = update.Status
	if update.ApprovedBy != nil {
		req.ApprovedBy = update.ApprovedBy
	}
	if update.ApprovedAt != nil {
		req.ApprovedAt = update.ApprovedAt
	}
	if update.RejectedBy != nil {
		req.RejectedBy = update.RejectedBy
	}
	if update.RejectionReason != nil {
		req.RejectionReason = update.RejectionReason
	}
	if update.ClearErrorDetail {
		req.ErrorDetail = nil
	} else if update.ErrorDetail != nil {
		req.ErrorDetail = update.ErrorDetail
	}
	if update.CompletedAt != nil {
		req.CompletedAt = update.CompletedAt
	}
	req.UpdatedAt = time.Now().UTC()
	return clone(req), nil
}

func (r *memRequestRepo) SetWorkflowID(ctx context.Context, id uuid.UUID, workflowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setWorkflowErr != nil {
		return r.setWorkflowErr
	}
	req, ok := r.reqs[id]
	if !ok {
		return repositories.ErrNotFound
	}
	req.WorkflowID = &workflowID
	return nil
}

func (r *memRequestRepo) CountActive(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (int, error) {
	return 0, nil
}

func (r *memRequestRepo) status(id uuid.UUID) models.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[id].Status
}

// memEnvironmentRepo resolves bindings from a fixed map
type memEnvironmentRepo struct {
	repositories.WorkspaceEnvironmentRepository
	envs map[string]*models.WorkspaceEnvironment
}

func (r *memEnvironmentRepo) Get(ctx context.Context, workspaceID uuid.UUID, environment string) (*models.WorkspaceEnvironment, error) {
	env, ok := r.envs[workspaceID.String()+"/"+environment]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return env, nil
}

// memPolicyRepo serves ListApplicable from a slice
type memPolicyRepo struct {
	repositories.PolicyRepository
	policies []*models.Policy
}

func (r *memPolicyRepo) ListApplicable(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*models.Policy, error) {
	var out []*models.Policy
	for _, p := range r.policies {
		if p.WorkspaceID == nil || *p.WorkspaceID == workspaceID {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeDispatcher records every call and derives workflow ids and run numbers
// like the real one: dispatching after a failed completion starts a new run
type fakeDispatcher struct {
	mu           sync.Mutex
	provisioning []workflow.ProvisioningJob
	deletions    []workflow.DeletionJob
	signals      []string
	completed    []workflow.Result
	runs         map[string]int
	failed       map[string]bool
	err          error
	completeErr  error
}

// startRun returns the run a dispatch of workflowID belongs to
func (d *fakeDispatcher) startRun(workflowID string) int {
	if d.runs == nil {
		d.runs = make(map[string]int)
		d.failed = make(map[string]bool)
	}
	switch {
	case d.runs[workflowID] == 0:
		d.runs[workflowID] = 1
	case d.failed[workflowID]:
		d.runs[workflowID]++
		d.failed[workflowID] = false
	}
	return d.runs[workflowID]
}

func (d *fakeDispatcher) DispatchProvisioning(ctx context.Context, job workflow.ProvisioningJob) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.provisioning = append(d.provisioning, job)
	workflowID := workflow.ProvisionWorkflowID(job.RequestID)
	d.startRun(workflowID)
	return workflowID, nil
}

func (d *fakeDispatcher) DispatchDeletion(ctx context.Context, job workflow.DeletionJob) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.deletions = append(d.deletions, job)
	workflowID := workflow.DeletionWorkflowID(job.RequestID)
	d.startRun(workflowID)
	return workflowID, nil
}

func (d *fakeDispatcher) Signal(ctx context.Context, workflowID, name string, payload map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.signals = append(d.signals, name+":"+workflowID)
	return nil
}

func (d *fakeDispatcher) Complete(ctx context.Context, result workflow.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completeErr != nil {
		return d.completeErr
	}
	if d.isStale(result) {
		return nil
	}
	d.completed = append(d.completed, result)
	if d.failed != nil {
		d.failed[result.WorkflowID] = result.Outcome == workflow.OutcomeFailed
	}
	return nil
}

func (d *fakeDispatcher) IsStale(ctx context.Context, result workflow.Result) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isStale(result), nil
}

func (d *fakeDispatcher) isStale(result workflow.Result) bool {
	return result.Run > 0 && result.Run < d.runs[result.WorkflowID]
}

func (d *fakeDispatcher) currentRun(workflowID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs[workflowID]
}

func (d *fakeDispatcher) completedCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.completed)
}

// staleErrDispatcher fails the run lookup
type staleErrDispatcher struct {
	*fakeDispatcher
	err error
}

func (d *staleErrDispatcher) IsStale(ctx context.Context, result workflow.Result) (bool, error) {
	return false, d.err
}

func (d *fakeDispatcher) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDispatcher) provisioningCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.provisioning)
}

func (d *fakeDispatcher) deletionCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deletions)
}

// MockNotifier is a mock implementation of notify.Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n notify.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// recordingAudit keeps the actions it was asked to log
type recordingAudit struct {
	mu      sync.Mutex
	actions []models.AuditAction
}

func (a *recordingAudit) LogRequestEvent(req *models.ProvisioningRequest, action models.AuditAction, actor string, details map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *recordingAudit) recorded() []models.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AuditAction(nil), a.actions...)
}
