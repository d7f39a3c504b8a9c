package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/kafka-control-plane/internal/observability"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/services"
	"go.uber.org/zap"
)

type publishedMessage struct {
	Subject string
	MsgID   string
	Data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []publishedMessage
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, publishedMessage{Subject: subject, MsgID: msgID, Data: data})
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.msgs...)
}

func (p *fakePublisher) onSubject(subject string) []publishedMessage {
	var out []publishedMessage
	for _, m := range p.messages() {
		if m.Subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakePublisher, *RedisExecutionStore) {
	t.Helper()
	store, _ := newTestStore(t)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, Subjects{Prefix: "kafka"}, time.Second, observability.Noop{}, zap.NewNop())
	return d, pub, store
}

func sampleProvisioningJob() ProvisioningJob {
	req := &models.ProvisioningRequest{
		ID:               uuid.New(),
		ResourceType:     models.ResourceTypeTopic,
		WorkspaceID:      uuid.New(),
		Environment:      "dev",
		ClusterRef:       "cluster-dev-1",
		FullResourceName: "team-a.orders",
		Spec:             models.ResourceSpec{Name: "orders", Partitions: 6, ReplicationFactor: 3, CleanupPolicy: "delete"},
	}
	return ProvisioningJobFromRequest(req)
}

func TestDispatcher_FirstDispatchPublishesOnce(t *testing.T) {
	d, pub, store := newTestDispatcher(t)
	ctx := context.Background()
	job := sampleProvisioningJob()

	id, err := d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "provision-"+job.RequestID.String(), id)

	jobs := pub.onSubject("kafka.workflow.provision")
	require.Len(t, jobs, 1)
	assert.Equal(t, id+"-r1", jobs[0].MsgID)

	var env Envelope
	require.NoError(t, json.Unmarshal(jobs[0].Data, &env))
	assert.Equal(t, id, env.WorkflowID)
	assert.Equal(t, JobKindProvision, env.Kind)
	assert.Equal(t, 1, env.Run)
	require.NotNil(t, env.Provisioning)
	assert.Equal(t, "team-a.orders", env.Provisioning.FullResourceName)
	assert.Equal(t, 6, env.Provisioning.Partitions)
	assert.Nil(t, env.Deletion)

	exec, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ExecutionAccepted, exec.State)
	assert.Equal(t, 1, exec.Attempts)
}

func TestDispatcher_SecondDispatchAttaches(t *testing.T) {
	d, pub, _ := newTestDispatcher(t)
	ctx := context.Background()
	job := sampleProvisioningJob()

	first, err := d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)
	second, err := d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, pub.onSubject("kafka.workflow.provision"), 1)

	signals := pub.onSubject("kafka.workflow.signal." + first)
	require.Len(t, signals, 1)
	assert.Empty(t, signals[0].MsgID)

	var sig SignalMessage
	require.NoError(t, json.Unmarshal(signals[0].Data, &sig))
	assert.Equal(t, SignalAttach, sig.Name)
	assert.Equal(t, first, sig.WorkflowID)
}

func TestDispatcher_PublishFailureLeavesStarting(t *testing.T) {
	d, pub, store := newTestDispatcher(t)
	ctx := context.Background()
	job := sampleProvisioningJob()

	pub.setErr(errors.New("nats: no servers available for connection"))
	id, err := d.DispatchProvisioning(ctx, job)
	require.Error(t, err)
	assert.True(t, services.IsDispatchError(err))
	assert.Empty(t, id)

	exec, found, err := store.Get(ctx, ProvisionWorkflowID(job.RequestID))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ExecutionStarting, exec.State)
	assert.Equal(t, 0, exec.Attempts)

	// the retry republishes the same run so the broker can drop a duplicate
	pub.setErr(nil)
	id, err = d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)

	jobs := pub.onSubject("kafka.workflow.provision")
	require.Len(t, jobs, 1)
	assert.Equal(t, id+"-r1", jobs[0].MsgID)
}

func TestDispatcher_StartingRecordIsRepublished(t *testing.T) {
	d, pub, store := newTestDispatcher(t)
	ctx := context.Background()
	job := sampleProvisioningJob()
	workflowID := ProvisionWorkflowID(job.RequestID)

	created, err := store.CreateIfAbsent(ctx, &Execution{
		WorkflowID: workflowID,
		RequestID:  job.RequestID,
		Kind:       JobKindProvision,
		State:      ExecutionStarting,
		Run:        1,
	})
	require.NoError(t, err)
	require.True(t, created)

	_, err = d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)

	jobs := pub.onSubject("kafka.workflow.provision")
	require.Len(t, jobs, 1)
	assert.Equal(t, workflowID+"-r1", jobs[0].MsgID)
	assert.Empty(t, pub.onSubject("kafka.workflow.signal."+workflowID))
}

func TestDispatcher_FailedExecutionStartsNewRun(t *testing.T) {
	d, pub, store := newTestDispatcher(t)
	ctx := context.Background()
	requestID := uuid.New()
	job := DeletionJob{RequestID: requestID, ResourceType: models.ResourceTypeTopic, FullResourceName: "team-a.orders", ClusterRef: "c1"}

	id, err := d.DispatchDeletion(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, "delete-"+requestID.String(), id)

	require.NoError(t, d.Complete(ctx, Result{WorkflowID: id, RequestID: requestID, Kind: JobKindDelete, Run: 1, Outcome: OutcomeFailed}))

	again, err := d.DispatchDeletion(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	jobs := pub.onSubject("kafka.workflow.delete")
	require.Len(t, jobs, 2)
	assert.Equal(t, id+"-r1", jobs[0].MsgID)
	assert.Equal(t, id+"-r2", jobs[1].MsgID)

	exec, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, exec.Run)
	assert.Equal(t, ExecutionAccepted, exec.State)
}

func TestDispatcher_ResultOfSupersededRunIsIgnored(t *testing.T) {
	d, _, store := newTestDispatcher(t)
	ctx := context.Background()
	requestID := uuid.New()
	job := DeletionJob{RequestID: requestID, ResourceType: models.ResourceTypeTopic, FullResourceName: "team-a.orders", ClusterRef: "c1"}
	runOneFailed := Result{WorkflowID: DeletionWorkflowID(requestID), RequestID: requestID, Kind: JobKindDelete, Run: 1, Outcome: OutcomeFailed}

	id, err := d.DispatchDeletion(ctx, job)
	require.NoError(t, err)
	require.NoError(t, d.Complete(ctx, runOneFailed))
	_, err = d.DispatchDeletion(ctx, job)
	require.NoError(t, err)

	stale, err := d.IsStale(ctx, runOneFailed)
	require.NoError(t, err)
	assert.True(t, stale)

	// a redelivered run 1 failure leaves run 2 running
	require.NoError(t, d.Complete(ctx, runOneFailed))
	exec, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, exec.Run)
	assert.Equal(t, ExecutionAccepted, exec.State)

	runTwoSucceeded := runOneFailed
	runTwoSucceeded.Run = 2
	runTwoSucceeded.Outcome = OutcomeSucceeded
	stale, err = d.IsStale(ctx, runTwoSucceeded)
	require.NoError(t, err)
	assert.False(t, stale)

	require.NoError(t, d.Complete(ctx, runTwoSucceeded))
	exec, _, err = store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ExecutionSucceeded, exec.State)
}

func TestExecution_IsStale(t *testing.T) {
	exec := &Execution{Run: 2}

	assert.True(t, exec.IsStale(Result{Run: 1}))
	assert.False(t, exec.IsStale(Result{Run: 2}))
	assert.False(t, exec.IsStale(Result{Run: 3}))
	assert.False(t, exec.IsStale(Result{}))
}

func TestDispatcher_IsStaleUnknownExecution(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	requestID := uuid.New()

	stale, err := d.IsStale(context.Background(), Result{WorkflowID: ProvisionWorkflowID(requestID), RequestID: requestID, Run: 1})
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestDispatcher_SucceededExecutionIsNoop(t *testing.T) {
	d, pub, _ := newTestDispatcher(t)
	ctx := context.Background()
	job := sampleProvisioningJob()

	id, err := d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)
	require.NoError(t, d.Complete(ctx, Result{WorkflowID: id, RequestID: job.RequestID, Kind: JobKindProvision, Run: 1, Outcome: OutcomeSucceeded}))

	again, err := d.DispatchProvisioning(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Len(t, pub.messages(), 1)
}

func TestDispatcher_CompleteWithoutRecord(t *testing.T) {
	d, _, store := newTestDispatcher(t)
	ctx := context.Background()
	requestID := uuid.New()
	id := ProvisionWorkflowID(requestID)

	require.NoError(t, d.Complete(ctx, Result{WorkflowID: id, RequestID: requestID, Kind: JobKindProvision, Run: 1, Outcome: OutcomeSucceeded}))

	exec, found, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ExecutionSucceeded, exec.State)
	assert.Equal(t, requestID, exec.RequestID)
}

func TestDispatcher_StoreUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, Subjects{}, time.Second, nil, zap.NewNop())
	mr.Close()

	_, err := d.DispatchProvisioning(context.Background(), sampleProvisioningJob())
	require.Error(t, err)
	assert.True(t, services.IsDispatchError(err))
	assert.Empty(t, pub.messages())
	assert.Error(t, d.Ping(context.Background()))
}

func TestDispatcher_SignalFailure(t *testing.T) {
	d, pub, _ := newTestDispatcher(t)
	pub.setErr(errors.New("connection closed"))

	err := d.Signal(context.Background(), "provision-x", SignalCancel, map[string]interface{}{"reason": "cancelled"})
	assert.True(t, services.IsDispatchError(err))
}

func TestDispatcher_ConcurrentDispatchPublishesOneJob(t *testing.T) {
	d, pub, _ := newTestDispatcher(t)
	job := sampleProvisioningJob()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := d.DispatchProvisioning(context.Background(), job)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ProvisionWorkflowID(job.RequestID), id)
	}
	// racing dispatchers may republish the starting run; the message id stays the same
	for _, m := range pub.onSubject("kafka.workflow.provision") {
		assert.Equal(t, ProvisionWorkflowID(job.RequestID)+"-r1", m.MsgID)
	}
}

func TestSubjects(t *testing.T) {
	s := Subjects{}
	assert.Equal(t, "kafka.workflow.provision", s.Job(JobKindProvision))
	assert.Equal(t, "kafka.workflow.signal.delete-1", s.Signal("delete-1"))
	assert.Equal(t, "kafka.workflow.results", s.Results())
	assert.Equal(t, "kafka.notifications.rejected", s.Notification("rejected"))
	assert.Equal(t, []string{"kafka.workflow.>"}, s.StreamSubjects())

	custom := Subjects{Prefix: "kcp"}
	assert.Equal(t, "kcp.workflow.delete", custom.Job(JobKindDelete))
}
