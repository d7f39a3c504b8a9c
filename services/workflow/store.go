package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ExecutionState tracks how far a dispatched execution has progressed
type ExecutionState string

const (
	// ExecutionStarting is recorded before the job is published
	ExecutionStarting ExecutionState = "starting"
	// ExecutionAccepted means the transport acknowledged the job
	ExecutionAccepted  ExecutionState = "accepted"
	ExecutionSucceeded ExecutionState = "succeeded"
	ExecutionFailed    ExecutionState = "failed"
)

// IsTerminal reports whether the execution has finished
func (s ExecutionState) IsTerminal() bool {
	return s == ExecutionSucceeded || s == ExecutionFailed
}

// Execution is the dispatcher's record of one workflow execution. Run counts
// restarts of a failed execution under the same id.
type Execution struct {
	WorkflowID string         `json:"workflow_id"`
	RequestID  uuid.UUID      `json:"request_id"`
	Kind       JobKind        `json:"kind"`
	State      ExecutionState `json:"state"`
	Run        int            `json:"run"`
	Attempts   int            `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// MessageID is the broker deduplication key of the current run
func (e *Execution) MessageID() string {
	return e.WorkflowID + "-r" + strconv.Itoa(e.Run)
}

// IsStale reports whether result was produced by an earlier run than the
// current one. A result without a run number is taken as current.
func (e *Execution) IsStale(result Result) bool {
	return result.Run > 0 && result.Run < e.Run
}

// ExecutionStore persists execution records keyed by workflow id
type ExecutionStore interface {
	// Get returns found=false when no record exists
	Get(ctx context.Context, workflowID string) (exec *Execution, found bool, err error)
	// CreateIfAbsent stores exec unless a record already exists
	CreateIfAbsent(ctx context.Context, exec *Execution) (created bool, err error)
	// Save overwrites the record
	Save(ctx context.Context, exec *Execution) error
	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}

const defaultExecutionTTL = 7 * 24 * time.Hour

// RedisExecutionStore keeps execution records in Redis
type RedisExecutionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisExecutionStore connects to Redis at url
func NewRedisExecutionStore(url, keyPrefix string, ttl time.Duration) (*RedisExecutionStore, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisExecutionStoreFromClient(client, keyPrefix, ttl), nil
}

// NewRedisExecutionStoreFromClient wraps an existing client
func NewRedisExecutionStoreFromClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisExecutionStore {
	if ttl <= 0 {
		ttl = defaultExecutionTTL
	}
	return &RedisExecutionStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Close shuts down the Redis client
func (s *RedisExecutionStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisExecutionStore) key(workflowID string) string {
	return s.keyPrefix + "execution:" + workflowID
}

// Get loads an execution record
func (s *RedisExecutionStore) Get(ctx context.Context, workflowID string) (*Execution, bool, error) {
	data, err := s.client.Get(ctx, s.key(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get execution %s: %w", workflowID, err)
	}
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, false, fmt.Errorf("decode execution %s: %w", workflowID, err)
	}
	return &exec, true, nil
}

// CreateIfAbsent stores exec with SET NX
func (s *RedisExecutionStore) CreateIfAbsent(ctx context.Context, exec *Execution) (bool, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return false, fmt.Errorf("encode execution %s: %w", exec.WorkflowID, err)
	}
	created, err := s.client.SetNX(ctx, s.key(exec.WorkflowID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("create execution %s: %w", exec.WorkflowID, err)
	}
	return created, nil
}

// Save overwrites an execution record and refreshes its TTL
func (s *RedisExecutionStore) Save(ctx context.Context, exec *Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.WorkflowID, err)
	}
	if err := s.client.Set(ctx, s.key(exec.WorkflowID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save execution %s: %w", exec.WorkflowID, err)
	}
	return nil
}

// Ping checks connectivity
func (s *RedisExecutionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
