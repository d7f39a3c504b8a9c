package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/upb/kafka-control-plane/middleware"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/repositories"
	"github.com/upb/kafka-control-plane/services/policy"
	"github.com/upb/kafka-control-plane/services/provisioning"
	"github.com/upb/kafka-control-plane/services/workflow"
)

// MockRequestService is a mock implementation of RequestService
type MockRequestService struct {
	mock.Mock
}

func requestResult(args mock.Arguments) (*models.ProvisioningRequest, error) {
	req, _ := args.Get(0).(*models.ProvisioningRequest)
	return req, args.Error(1)
}

func (m *MockRequestService) Create(ctx context.Context, input provisioning.CreateRequestInput) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, input))
}

func (m *MockRequestService) Get(ctx context.Context, id uuid.UUID) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id))
}

func (m *MockRequestService) List(ctx context.Context, filter repositories.RequestFilter) ([]*models.ProvisioningRequest, error) {
	args := m.Called(ctx, filter)
	reqs, _ := args.Get(0).([]*models.ProvisioningRequest)
	return reqs, args.Error(1)
}

func (m *MockRequestService) Approve(ctx context.Context, id uuid.UUID, approver string) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id, approver))
}

func (m *MockRequestService) Reject(ctx context.Context, id uuid.UUID, rejector, reason string) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id, rejector, reason))
}

func (m *MockRequestService) Cancel(ctx context.Context, id uuid.UUID, actor, reason string) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id, actor, reason))
}

func (m *MockRequestService) Delete(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id, actor))
}

func (m *MockRequestService) RetryDispatch(ctx context.Context, id uuid.UUID, actor string) (*models.ProvisioningRequest, error) {
	return requestResult(m.Called(ctx, id, actor))
}

// MockQuotaService is a mock implementation of QuotaService and QuotaGuard
type MockQuotaService struct {
	mock.Mock
}

func (m *MockQuotaService) CheckQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error) {
	args := m.Called(ctx, workspaceID, kind)
	status, _ := args.Get(0).(*models.QuotaStatus)
	return status, args.Error(1)
}

func (m *MockQuotaService) EnsureWithinQuota(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType) (*models.QuotaStatus, error) {
	args := m.Called(ctx, workspaceID, kind)
	status, _ := args.Get(0).(*models.QuotaStatus)
	return status, args.Error(1)
}

func (m *MockQuotaService) SetQuotaOverride(ctx context.Context, workspaceID uuid.UUID, kind models.ResourceType, newLimit int, reason, setBy string) (*models.QuotaOverride, error) {
	args := m.Called(ctx, workspaceID, kind, newLimit, reason, setBy)
	override, _ := args.Get(0).(*models.QuotaOverride)
	return override, args.Error(1)
}

// MockPolicyService is a mock implementation of PolicyService
type MockPolicyService struct {
	mock.Mock
}

func (m *MockPolicyService) Create(ctx context.Context, input policy.PolicyInput, actor string) (*models.Policy, error) {
	args := m.Called(ctx, input, actor)
	p, _ := args.Get(0).(*models.Policy)
	return p, args.Error(1)
}

func (m *MockPolicyService) Get(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*models.Policy)
	return p, args.Error(1)
}

func (m *MockPolicyService) List(ctx context.Context, workspaceID *uuid.UUID) ([]*models.Policy, error) {
	args := m.Called(ctx, workspaceID)
	ps, _ := args.Get(0).([]*models.Policy)
	return ps, args.Error(1)
}

func (m *MockPolicyService) Update(ctx context.Context, id uuid.UUID, input policy.PolicyInput, actor string) (*models.Policy, error) {
	args := m.Called(ctx, id, input, actor)
	p, _ := args.Get(0).(*models.Policy)
	return p, args.Error(1)
}

func (m *MockPolicyService) Delete(ctx context.Context, id uuid.UUID, actor string) error {
	return m.Called(ctx, id, actor).Error(0)
}

func (m *MockPolicyService) Apply(ctx context.Context, policies []*models.Policy, actor string) (int, error) {
	args := m.Called(ctx, policies, actor)
	return args.Int(0), args.Error(1)
}

func (m *MockPolicyService) CacheStats() policy.CacheStats {
	return m.Called().Get(0).(policy.CacheStats)
}

// MockResultHandler is a mock implementation of workflow.ResultHandler
type MockResultHandler struct {
	mock.Mock
}

func (m *MockResultHandler) HandleWorkflowResult(ctx context.Context, result workflow.Result) error {
	return m.Called(ctx, result).Error(0)
}

const testActor = "dev@example.com"

// newRequest builds a request authenticated as testActor with chi URL params set
func newRequest(method, target, body string, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	ctx = middleware.WithClaims(ctx, &middleware.Claims{Sub: "user-1", Email: testActor})
	return req.WithContext(ctx)
}
