package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/upb/kafka-control-plane/config"
	"go.uber.org/zap"
)

// Publisher sends a message to the execution engine. msgID is the
// deduplication key; an empty msgID disables deduplication.
type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

var errNilConn = errors.New("nats connection not initialized")

// NatsPublisher publishes over NATS, through JetStream when enabled
type NatsPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS with reconnect handling logged through logger
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := []nats.Option{
		nats.Name("kafka-control-plane"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NewNatsPublisher wraps nc. With JetStream enabled the workflow stream is
// ensured with a duplicate window so republished jobs are dropped by id.
func NewNatsPublisher(nc *nats.Conn, cfg config.NATSConfig, subjects Subjects, logger *zap.Logger) (*NatsPublisher, error) {
	if nc == nil {
		return nil, errNilConn
	}
	p := &NatsPublisher{nc: nc, logger: logger}
	if !cfg.UseJetStream {
		return p, nil
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	if err := ensureStream(js, cfg, subjects); err != nil {
		return nil, err
	}
	p.js = js
	logger.Info("jetstream enabled",
		zap.String("stream", cfg.Stream),
		zap.Duration("duplicate_window", cfg.DuplicateWindow))
	return p, nil
}

func ensureStream(js nats.JetStreamContext, cfg config.NATSConfig, subjects Subjects) error {
	window := cfg.DuplicateWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   subjects.StreamSubjects(),
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: window,
	})
	if err == nil {
		return nil
	}
	// stream may already exist
	if _, infoErr := js.StreamInfo(cfg.Stream); infoErr == nil {
		return nil
	}
	return fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
}

// JetStream returns the JetStream context, nil when disabled
func (p *NatsPublisher) JetStream() nats.JetStreamContext {
	return p.js
}

// Publish sends data on subject. Without JetStream the connection is
// flushed so an unreachable server surfaces as an error.
func (p *NatsPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	if p == nil || p.nc == nil {
		return errNilConn
	}
	if subject == "" {
		return errors.New("empty subject")
	}

	if p.js != nil {
		opts := []nats.PubOpt{nats.Context(ctx)}
		if msgID != "" {
			opts = append(opts, nats.MsgId(msgID))
		}
		_, err := p.js.Publish(subject, data, opts...)
		return err
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return p.nc.FlushWithContext(ctx)
}

// Ping reports whether the connection is up
func (p *NatsPublisher) Ping(ctx context.Context) error {
	if p == nil || p.nc == nil {
		return errNilConn
	}
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats status %s", p.nc.Status())
	}
	return nil
}
