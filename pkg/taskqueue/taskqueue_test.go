package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := DefaultConfig()
	cfg.RedisAddr = mr.Addr()
	cfg.RetryLimit = 2

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := &RedisQueue{
		client:      asynq.NewClient(redisOpt(cfg)),
		redisClient: rc,
		cfg:         cfg,
		logger:      logger,
	}
	t.Cleanup(func() { q.Close() })
	return q
}

// storeTask 写入一个待处理任务，不经过asynq
func storeTask(t *testing.T, q *RedisQueue, payload interface{}) *Task {
	t.Helper()
	task, err := q.newTask(TaskIngestDocument, "ing-1", payload)
	require.NoError(t, err)
	require.NoError(t, q.saveTask(context.Background(), task))
	return task
}

type funcHandler struct {
	fn func(ctx context.Context, task *Task) (interface{}, error)
}

func (h funcHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	return h.fn(ctx, task)
}

func (h funcHandler) GetTaskTypes() []TaskType { return []TaskType{TaskIngestDocument} }

func newTestWorker(q *RedisQueue) *RedisWorker {
	return &RedisWorker{queue: q, handlers: make(map[TaskType]Handler), logger: q.logger}
}

func TestRedisQueue_TaskLifecycle(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()

	task := storeTask(t, q, IngestPayload{IngestionID: "ing-1", Filename: "a.pdf"})

	got, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "ing-1", got.IngestionID)
	assert.Equal(t, 2, got.MaxRetries)

	var payload IngestPayload
	require.NoError(t, UnmarshalPayload(got.Payload, &payload))
	assert.Equal(t, "a.pdf", payload.Filename)

	require.NoError(t, q.UpdateTaskStatus(ctx, task.ID, StatusProcessing, nil, ""))
	got, err = q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, q.UpdateTaskStatus(ctx, task.ID, StatusCompleted, map[string]int{"chunks": 3}, ""))
	got, err = q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"chunks":3}`, string(got.Result))
}

func TestRedisQueue_GetTaskNotFound(t *testing.T) {
	q := setupQueue(t)

	_, err := q.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	err = q.UpdateTaskStatus(context.Background(), "missing", StatusFailed, nil, "x")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueue_WaitForTask(t *testing.T) {
	q := setupQueue(t)
	ctx := context.Background()
	task := storeTask(t, q, IngestPayload{IngestionID: "ing-1", Filename: "a.pdf"})

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.UpdateTaskStatus(context.Background(), task.ID, StatusFailed, nil, "boom")
	}()

	got, err := q.WaitForTask(ctx, task.ID, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestRedisQueue_WaitForTaskTimeout(t *testing.T) {
	q := setupQueue(t)
	task := storeTask(t, q, nil)

	_, err := q.WaitForTask(context.Background(), task.ID, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTaskTimeout)
}

func TestRedisWorker_HandleSuccess(t *testing.T) {
	q := setupQueue(t)
	w := newTestWorker(q)
	task := storeTask(t, q, IngestPayload{IngestionID: "ing-1", Filename: "a.pdf"})

	var seen *Task
	h := funcHandler{fn: func(ctx context.Context, task *Task) (interface{}, error) {
		seen = task
		return map[string]string{"status": "success"}, nil
	}}

	err := w.handle(h)(context.Background(), asynq.NewTask(string(TaskIngestDocument), []byte(task.ID)))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, task.ID, seen.ID)

	got, err := q.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.JSONEq(t, `{"status":"success"}`, string(got.Result))
}

func TestRedisWorker_HandlePermanentFailure(t *testing.T) {
	q := setupQueue(t)
	w := newTestWorker(q)
	task := storeTask(t, q, nil)

	h := funcHandler{fn: func(ctx context.Context, task *Task) (interface{}, error) {
		return nil, fmt.Errorf("%w: no content", ErrPermanent)
	}}

	err := w.handle(h)(context.Background(), asynq.NewTask(string(TaskIngestDocument), []byte(task.ID)))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	got, err := q.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "no content")
}

func TestRedisWorker_HandleRetryableFailure(t *testing.T) {
	q := setupQueue(t)
	w := newTestWorker(q)
	task := storeTask(t, q, nil)

	boom := errors.New("store unavailable")
	h := funcHandler{fn: func(ctx context.Context, task *Task) (interface{}, error) {
		return nil, boom
	}}
	run := w.handle(h)
	asynqTask := asynq.NewTask(string(TaskIngestDocument), []byte(task.ID))

	// 重试次数用尽前保持processing
	for i := 0; i < task.MaxRetries; i++ {
		err := run(context.Background(), asynqTask)
		assert.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, asynq.SkipRetry))

		got, err := q.GetTask(context.Background(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, got.Status)
	}

	err := run(context.Background(), asynqTask)
	assert.ErrorIs(t, err, boom)

	got, err := q.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, task.MaxRetries+1, got.Attempts)
}

func TestRedisWorker_HandleMissingTask(t *testing.T) {
	q := setupQueue(t)
	w := newTestWorker(q)

	h := funcHandler{fn: func(ctx context.Context, task *Task) (interface{}, error) {
		t.Fatal("handler must not run")
		return nil, nil
	}}

	err := w.handle(h)(context.Background(), asynq.NewTask(string(TaskIngestDocument), []byte("gone")))
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIngestHandler_ProcessTask(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var got IngestPayload
	h := NewIngestHandler(func(ctx context.Context, p IngestPayload) (interface{}, error) {
		got = p
		return "ok", nil
	}, logger)
	assert.Equal(t, []TaskType{TaskIngestDocument}, h.GetTaskTypes())

	payload, err := json.Marshal(IngestPayload{Filename: "a.pdf"})
	require.NoError(t, err)

	res, err := h.ProcessTask(context.Background(), &Task{ID: "t1", IngestionID: "ing-9", Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, IngestPayload{IngestionID: "ing-9", Filename: "a.pdf"}, got)

	_, err = h.ProcessTask(context.Background(), &Task{ID: "t2", Payload: json.RawMessage(`{"filename":""}`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.ErrorIs(t, err, ErrPermanent)

	_, err = h.ProcessTask(context.Background(), &Task{ID: "t3", Payload: json.RawMessage(`not json`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestNewQueue_UnknownImplementation(t *testing.T) {
	_, err := NewQueue("kafka", DefaultConfig())
	assert.Error(t, err)
}
