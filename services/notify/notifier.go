// Package notify tells requesters about decisions taken on their requests.
// Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/kafka-control-plane/models"
	"github.com/upb/kafka-control-plane/services/workflow"
	"go.uber.org/zap"
)

// Notification actions
const (
	ActionRejected = "rejected"
	ActionFailed   = "failed"
)

// Notification is the message delivered to a requester
type Notification struct {
	Action           string              `json:"action"`
	RequestID        uuid.UUID           `json:"request_id"`
	WorkspaceID      uuid.UUID           `json:"workspace_id"`
	Environment      string              `json:"environment"`
	ResourceType     models.ResourceType `json:"resource_type"`
	FullResourceName string              `json:"full_resource_name"`
	Recipient        string              `json:"recipient"`
	Actor            string              `json:"actor,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	OccurredAt       time.Time           `json:"occurred_at"`
}

// ForRequest builds a notification addressed to the requester of req
func ForRequest(req *models.ProvisioningRequest, action, actor, reason string) Notification {
	return Notification{
		Action:           action,
		RequestID:        req.ID,
		WorkspaceID:      req.WorkspaceID,
		Environment:      req.Environment,
		ResourceType:     req.ResourceType,
		FullResourceName: req.FullResourceName,
		Recipient:        req.RequestedBy,
		Actor:            actor,
		Reason:           reason,
		OccurredAt:       time.Now().UTC(),
	}
}

// Notifier delivers notifications
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NatsNotifier publishes notifications on kafka.notifications.<action>
type NatsNotifier struct {
	publisher workflow.Publisher
	subjects  workflow.Subjects
	logger    *zap.Logger
}

// NewNatsNotifier creates a notifier over an existing publisher
func NewNatsNotifier(publisher workflow.Publisher, subjects workflow.Subjects, logger *zap.Logger) *NatsNotifier {
	return &NatsNotifier{publisher: publisher, subjects: subjects, logger: logger}
}

// Notify publishes n. The message id makes redelivery of the same decision idempotent.
func (n *NatsNotifier) Notify(ctx context.Context, notification Notification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	msgID := "notify-" + notification.Action + "-" + notification.RequestID.String()
	if err := n.publisher.Publish(ctx, n.subjects.Notification(notification.Action), msgID, data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	n.logger.Debug("notification published",
		zap.String("action", notification.Action),
		zap.String("request_id", notification.RequestID.String()))
	return nil
}

// LogNotifier writes notifications to the log. Used when NATS is not configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n
func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Info("requester notification",
		zap.String("action", notification.Action),
		zap.String("request_id", notification.RequestID.String()),
		zap.String("recipient", notification.Recipient),
		zap.String("resource", notification.FullResourceName),
		zap.String("reason", notification.Reason))
	return nil
}
