package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/upb/kafka-control-plane/services"
	"go.uber.org/zap"
)

const (
	resultQueueGroup     = "kafka-control-plane"
	defaultResultTimeout = 30 * time.Second
	resultAckWait        = 2 * time.Minute
)

// ResultHandler applies an execution result to the request it belongs to
type ResultHandler interface {
	HandleWorkflowResult(ctx context.Context, result Result) error
}

// ResultHandlerFunc adapts a function to ResultHandler
type ResultHandlerFunc func(ctx context.Context, result Result) error

// HandleWorkflowResult calls f
func (f ResultHandlerFunc) HandleWorkflowResult(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// ResultSubscriber consumes execution results from the engine. With
// JetStream the consumer is durable and a result is redelivered until the
// handler either applies it or rejects it permanently.
type ResultSubscriber struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	subjects Subjects
	handler  ResultHandler
	timeout  time.Duration
	validate *validator.Validate
	logger   *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewResultSubscriber creates a subscriber. js may be nil.
func NewResultSubscriber(nc *nats.Conn, js nats.JetStreamContext, subjects Subjects, handler ResultHandler, logger *zap.Logger) *ResultSubscriber {
	return &ResultSubscriber{
		nc:       nc,
		js:       js,
		subjects: subjects,
		handler:  handler,
		timeout:  defaultResultTimeout,
		validate: validator.New(),
		logger:   logger,
	}
}

// Start subscribes to the results subject
func (s *ResultSubscriber) Start() error {
	if s.nc == nil {
		return errNilConn
	}
	if s.handler == nil {
		return errors.New("nil result handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return errors.New("result subscriber already started")
	}

	subject := s.subjects.Results()
	var (
		sub *nats.Subscription
		err error
	)
	if s.js != nil {
		sub, err = s.js.QueueSubscribe(subject, resultQueueGroup, s.onDurableMessage,
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.AckWait(resultAckWait),
			nats.MaxAckPending(256),
			nats.Durable(durableName(subject)),
		)
	} else {
		sub, err = s.nc.QueueSubscribe(subject, resultQueueGroup, s.onMessage)
	}
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("subscribed to workflow results",
		zap.String("subject", subject),
		zap.Bool("durable", s.js != nil))
	return nil
}

// Stop drains the subscription
func (s *ResultSubscriber) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	return err
}

func (s *ResultSubscriber) onDurableMessage(msg *nats.Msg) {
	if err := s.handleResult(msg.Data); err != nil && isRetryable(err) {
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

func (s *ResultSubscriber) onMessage(msg *nats.Msg) {
	_ = s.handleResult(msg.Data)
}

// handleResult decodes, validates and applies one result message
func (s *ResultSubscriber) handleResult(data []byte) error {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		s.logger.Warn("dropping undecodable workflow result", zap.Error(err))
		return services.NewDomainError(services.ErrorTypeValidation, "invalid workflow result", err)
	}
	if err := s.validate.Struct(result); err != nil {
		s.logger.Warn("dropping invalid workflow result",
			zap.String("workflow_id", result.WorkflowID),
			zap.Error(err))
		return services.NewDomainError(services.ErrorTypeValidation, "invalid workflow result", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.handler.HandleWorkflowResult(ctx, result); err != nil {
		s.logger.Error("failed to apply workflow result",
			zap.String("workflow_id", result.WorkflowID),
			zap.String("request_id", result.RequestID.String()),
			zap.String("outcome", string(result.Outcome)),
			zap.Bool("retry", isRetryable(err)),
			zap.Error(err))
		return err
	}
	return nil
}

// isRetryable reports whether redelivery could succeed
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if services.IsDispatchError(err) || services.IsInternalError(err) {
		return true
	}
	return services.GetErrorType(err) == ""
}

func durableName(subject string) string {
	name := strings.ReplaceAll(subject, ".", "_")
	name = strings.ReplaceAll(name, "*", "STAR")
	name = strings.ReplaceAll(name, ">", "GT")
	return "dur_" + resultQueueGroup + "__" + name
}
