package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/kafka-control-plane/services"
	"github.com/upb/kafka-control-plane/services/workflow"
	"go.uber.org/zap"
)

const callbackToken = "engine-shared-secret"

func resultBody(t *testing.T, r workflow.Result) string {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return string(data)
}

func TestHandleWorkflowResult(t *testing.T) {
	requestID := uuid.New()
	result := workflow.Result{
		WorkflowID:  workflow.ProvisionWorkflowID(requestID),
		RequestID:   requestID,
		Kind:        workflow.JobKindProvision,
		Run:         1,
		Outcome:     workflow.OutcomeSucceeded,
		CompletedAt: time.Now().UTC().Truncate(time.Second),
	}

	post := func(h *WorkflowHandler, body, token string) *httptest.ResponseRecorder {
		req := newRequest(http.MethodPost, "/workflows/results", body, nil)
		if token != "" {
			req.Header.Set(CallbackTokenHeader, token)
		}
		w := httptest.NewRecorder()
		h.HandleResult(w, req)
		return w
	}

	t.Run("accepted", func(t *testing.T) {
		results := new(MockResultHandler)
		results.On("HandleWorkflowResult", mock.Anything, mock.MatchedBy(func(r workflow.Result) bool {
			return r.WorkflowID == result.WorkflowID && r.Outcome == workflow.OutcomeSucceeded
		})).Return(nil)
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		w := post(h, resultBody(t, result), callbackToken)

		assert.Equal(t, http.StatusNoContent, w.Code)
		results.AssertExpectations(t)
	})

	t.Run("wrong token", func(t *testing.T) {
		results := new(MockResultHandler)
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		assert.Equal(t, http.StatusUnauthorized, post(h, resultBody(t, result), "guess").Code)
		assert.Equal(t, http.StatusUnauthorized, post(h, resultBody(t, result), "").Code)
		results.AssertNotCalled(t, "HandleWorkflowResult", mock.Anything, mock.Anything)
	})

	t.Run("unconfigured token rejects everything", func(t *testing.T) {
		results := new(MockResultHandler)
		h := NewWorkflowHandler(results, "", zap.NewNop())

		assert.Equal(t, http.StatusUnauthorized, post(h, resultBody(t, result), "").Code)
	})

	t.Run("invalid outcome", func(t *testing.T) {
		results := new(MockResultHandler)
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		bad := result
		bad.Outcome = "partial"
		w := post(h, resultBody(t, bad), callbackToken)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrorBody(t, w).Details, "outcome")
	})

	t.Run("missing run number", func(t *testing.T) {
		results := new(MockResultHandler)
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		bad := result
		bad.Run = 0
		w := post(h, resultBody(t, bad), callbackToken)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decodeErrorBody(t, w).Details, "run")
		results.AssertNotCalled(t, "HandleWorkflowResult", mock.Anything, mock.Anything)
	})

	t.Run("foreign workflow id", func(t *testing.T) {
		results := new(MockResultHandler)
		results.On("HandleWorkflowResult", mock.Anything, mock.Anything).
			Return(services.ValidationError("workflow_id", "workflow id does not belong to the request"))
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		assert.Equal(t, http.StatusBadRequest, post(h, resultBody(t, result), callbackToken).Code)
	})

	t.Run("store unavailable is retryable", func(t *testing.T) {
		results := new(MockResultHandler)
		results.On("HandleWorkflowResult", mock.Anything, mock.Anything).Return(services.ErrEngineUnavailable)
		h := NewWorkflowHandler(results, callbackToken, zap.NewNop())

		assert.Equal(t, http.StatusServiceUnavailable, post(h, resultBody(t, result), callbackToken).Code)
	})
}
