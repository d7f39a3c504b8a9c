package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/upb/kafka-control-plane/services/workflow"
	"github.com/upb/kafka-control-plane/utils"
	"go.uber.org/zap"
)

// CallbackTokenHeader carries the shared secret of the engine callback
const CallbackTokenHeader = "X-Callback-Token"

// WorkflowHandler receives execution results pushed by the workflow engine.
// It is the HTTP twin of the NATS result subscriber.
type WorkflowHandler struct {
	results workflow.ResultHandler
	token   []byte
	logger  *zap.Logger
}

// NewWorkflowHandler creates a new WorkflowHandler. An empty token rejects every call.
func NewWorkflowHandler(results workflow.ResultHandler, callbackToken string, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		results: results,
		token:   []byte(callbackToken),
		logger:  logger,
	}
}

// HandleResult handles POST /workflows/results
func (h *WorkflowHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("rejected workflow callback", zap.String("remote_addr", r.RemoteAddr))
		_ = utils.WriteUnauthorized(w, "Invalid callback token")
		return
	}

	var result workflow.Result
	if err := utils.DecodeJSON(r, &result); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&result); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.results.HandleWorkflowResult(r.Context(), result); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

func (h *WorkflowHandler) authorized(r *http.Request) bool {
	if len(h.token) == 0 {
		return false
	}
	got := []byte(r.Header.Get(CallbackTokenHeader))
	return subtle.ConstantTimeCompare(got, h.token) == 1
}
