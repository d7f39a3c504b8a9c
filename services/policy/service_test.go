package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services"
	"go.uber.org/zap"
)

// MockAuditLogger is a mock implementation of AuditLogger
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogPolicyEvent(policy *models.Policy, action models.AuditAction, actor string) error {
	return m.Called(policy, action, actor).Error(0)
}

func (m *MockAuditLogger) LogPolicyDeleted(policyID uuid.UUID, workspaceID *uuid.UUID, actor string) error {
	return m.Called(policyID, workspaceID, actor).Error(0)
}

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit() error            { t.committed = true; return nil }
func (t *fakeTx) Rollback() error          { t.rolledBack = true; return nil }
func (t *fakeTx) Context() context.Context { return context.Background() }

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	m.tx = &fakeTx{}
	return m.tx, nil
}

func (m *fakeTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return services.WithTransaction(ctx, m, fn)
}

type serviceFixture struct {
	repo    *MockPolicyRepository
	audit   *MockAuditLogger
	txMgr   *fakeTxManager
	cache   *PolicyCache
	service *PolicyService
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		repo:  new(MockPolicyRepository),
		audit: new(MockAuditLogger),
		txMgr: &fakeTxManager{},
		cache: NewPolicyCache(10, time.Minute),
	}
	f.service = NewPolicyService(f.repo, f.txMgr, f.cache, f.audit, zap.NewNop())
	return f
}

func validInput() PolicyInput {
	return PolicyInput{
		Name:     "naming",
		Priority: 10,
		Rules: models.PolicyRules{
			NamingConventions: models.NamingConventions{Pattern: "^[a-z-]+$"},
			RequireApproval:   true,
		},
	}
}

func TestPolicyService_Create(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	ws := uuid.New()
	other := uuid.New()
	f.cache.SetPolicies(ws, []*models.Policy{})
	f.cache.SetPolicies(other, []*models.Policy{})

	input := validInput()
	input.WorkspaceID = &ws
	disabled := false
	input.Enabled = &disabled

	f.repo.On("Create", ctx, mock.AnythingOfType("*models.Policy")).Return(nil)
	f.audit.On("LogPolicyEvent", mock.Anything, models.AuditActionPolicyCreated, "admin").Return(nil)

	p, err := f.service.Create(ctx, input, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", p.CreatedBy)
	assert.False(t, p.Enabled)
	assert.Equal(t, []string{}, p.Environments)

	_, ok := f.cache.GetPolicies(ws)
	assert.False(t, ok, "workspace entry should be invalidated")
	_, ok = f.cache.GetPolicies(other)
	assert.True(t, ok, "other workspaces keep their entry")

	f.repo.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

func TestPolicyService_CreatePlatformWideClearsCache(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	f.cache.SetPolicies(uuid.New(), []*models.Policy{})

	f.repo.On("Create", ctx, mock.Anything).Return(nil)
	f.audit.On("LogPolicyEvent", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("buffer full"))

	_, err := f.service.Create(ctx, validInput(), "admin")
	require.NoError(t, err, "audit failures do not fail the write")
	assert.Equal(t, 0, f.cache.Stats().Size)
}

func TestPolicyService_CreateValidation(t *testing.T) {
	f := newServiceFixture()
	input := validInput()
	input.Rules.NamingConventions.Pattern = "(["

	_, err := f.service.Create(context.Background(), input, "admin")
	assert.True(t, services.IsValidationError(err))
	f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPolicyService_Get(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	id := uuid.New()
	f.repo.On("GetByID", ctx, id).Return(nil, repositories.ErrNotFound)

	_, err := f.service.Get(ctx, id)
	assert.ErrorIs(t, err, services.ErrPolicyNotFound)

	failing := uuid.New()
	f.repo.On("GetByID", ctx, failing).Return(nil, errors.New("timeout"))
	_, err = f.service.Get(ctx, failing)
	assert.True(t, services.IsInternalError(err))
}

func TestPolicyService_Update(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	oldWS, newWS := uuid.New(), uuid.New()
	existing := models.NewPolicy(&oldWS, "old", 1, models.PolicyRules{})
	f.cache.SetPolicies(oldWS, []*models.Policy{existing})
	f.cache.SetPolicies(newWS, []*models.Policy{})

	input := validInput()
	input.WorkspaceID = &newWS
	input.Environments = []string{"prod"}

	f.repo.On("GetByID", ctx, existing.ID).Return(existing, nil)
	f.repo.On("Update", ctx, existing).Return(nil)
	f.audit.On("LogPolicyEvent", existing, models.AuditActionPolicyUpdated, "admin").Return(nil)

	updated, err := f.service.Update(ctx, existing.ID, input, "admin")
	require.NoError(t, err)
	assert.Equal(t, "naming", updated.Name)
	assert.Equal(t, newWS, *updated.WorkspaceID)
	assert.Equal(t, []string{"prod"}, updated.Environments)

	_, ok := f.cache.GetPolicies(oldWS)
	assert.False(t, ok)
	_, ok = f.cache.GetPolicies(newWS)
	assert.False(t, ok)
}

func TestPolicyService_UpdateNotFound(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	id := uuid.New()
	f.repo.On("GetByID", ctx, id).Return(nil, repositories.ErrNotFound)

	_, err := f.service.Update(ctx, id, validInput(), "admin")
	assert.True(t, services.IsNotFoundError(err))
}

func TestPolicyService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	ws := uuid.New()
	existing := models.NewPolicy(&ws, "old", 1, models.PolicyRules{})
	f.cache.SetPolicies(ws, []*models.Policy{existing})

	f.repo.On("GetByID", ctx, existing.ID).Return(existing, nil)
	f.repo.On("Delete", ctx, existing.ID).Return(nil)
	f.audit.On("LogPolicyDeleted", existing.ID, &ws, "admin").Return(nil)

	require.NoError(t, f.service.Delete(ctx, existing.ID, "admin"))
	_, ok := f.cache.GetPolicies(ws)
	assert.False(t, ok)
	f.audit.AssertExpectations(t)
}

func TestPolicyService_Apply(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()
	f.cache.SetPolicies(uuid.New(), []*models.Policy{})

	policies, err := ParsePolicyFile([]byte(seedFile))
	require.NoError(t, err)

	f.repo.On("Upsert", mock.Anything, mock.AnythingOfType("*models.Policy")).Return(nil).Run(func(args mock.Arguments) {
		_, inTx := repositories.TransactionFromContext(args.Get(0).(context.Context))
		assert.True(t, inTx)
	})
	f.audit.On("LogPolicyEvent", mock.Anything, models.AuditActionPolicyUpdated, "seed").Return(nil)

	applied, err := f.service.Apply(ctx, policies, "seed")
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.True(t, f.txMgr.tx.committed)
	assert.Equal(t, 0, f.cache.Stats().Size)
	f.repo.AssertNumberOfCalls(t, "Upsert", 2)
}

func TestPolicyService_ApplyRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture()

	policies, err := ParsePolicyFile([]byte(seedFile))
	require.NoError(t, err)

	f.repo.On("Upsert", mock.Anything, policies[0]).Return(nil)
	f.repo.On("Upsert", mock.Anything, policies[1]).Return(errors.New("unique violation"))

	_, err = f.service.Apply(ctx, policies, "seed")
	assert.True(t, services.IsInternalError(err))
	assert.True(t, f.txMgr.tx.rolledBack)
	assert.False(t, f.txMgr.tx.committed)
	f.audit.AssertNotCalled(t, "LogPolicyEvent", mock.Anything, mock.Anything, mock.Anything)
}
