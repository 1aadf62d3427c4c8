package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"nodeo/internal/common/cache"
	"nodeo/internal/common/db"
	"nodeo/internal/common/mq"
	"nodeo/internal/evaluator/judge"
	"nodeo/internal/evaluator/model"
	"nodeo/internal/evaluator/repository"
	"nodeo/internal/evaluator/runner"
	appErr "nodeo/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	runTopic   = "eval.runs"
	finalTopic = "eval.status.final"
)

type fakeQueue struct {
	mu        sync.Mutex
	published map[string][]*mq.Message
	err       error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{published: make(map[string][]*mq.Message)}
}

func (q *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published[topic] = append(q.published[topic], message)
	return nil
}

func (q *fakeQueue) messages(topic string) []*mq.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*mq.Message(nil), q.published[topic]...)
}

func (q *fakeQueue) Subscribe(ctx context.Context, topic string, handler mq.HandlerFunc) error {
	return nil
}

func (q *fakeQueue) SubscribeWithOptions(ctx context.Context, topic string, handler mq.HandlerFunc, opts *mq.SubscribeOptions) error {
	return nil
}

func (q *fakeQueue) Start() error                   { return nil }
func (q *fakeQueue) Stop() error                    { return nil }
func (q *fakeQueue) Ping(ctx context.Context) error { return nil }
func (q *fakeQueue) Close() error                   { return nil }

type fakeSources struct {
	mu    sync.Mutex
	codes map[string]string
}

func (f *fakeSources) Put(ctx context.Context, runID, code string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := repository.SourceKey(runID)
	f.codes[key] = code
	return key, "", nil
}

func (f *fakeSources) Get(ctx context.Context, key, hash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	code, ok := f.codes[key]
	if !ok {
		return "", appErr.New(appErr.StorageError).WithMessage("no such object")
	}
	return code, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	runs map[string]model.RunStatusResponse
}

func (f *fakeHistory) Save(ctx context.Context, tx db.Transaction, status model.RunStatusResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[status.RunID] = status
	return nil
}

func (f *fakeHistory) Get(ctx context.Context, runID string) (model.RunStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.runs[runID]
	if !ok {
		return model.RunStatusResponse{}, appErr.New(appErr.RunNotFound)
	}
	return st, nil
}

type fakeChallenges map[string]model.LanguageTests

func (f fakeChallenges) TestsFor(challengeID, language string) (model.LanguageTests, error) {
	lt, ok := f[challengeID+"/"+language]
	if !ok {
		return model.LanguageTests{}, appErr.New(appErr.ChallengeNotFound)
	}
	return lt, nil
}

type countingRunner struct {
	*runner.Runner
	mu    sync.Mutex
	calls int
}

func (c *countingRunner) RunObserved(ctx context.Context, language, code string, tests []model.TestCase, obs runner.Observer) (model.ExecutionResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Runner.RunObserved(ctx, language, code, tests, obs)
}

type harness struct {
	svc     *Service
	runner  *countingRunner
	queue   *fakeQueue
	sources *fakeSources
	history *fakeHistory
	mr      *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}

	adapter := judge.NewAdapter(judge.MockClient{}, judge.NewLanguageTable(nil), judge.Limits{})
	r, err := runner.New(runner.DefaultTable(), adapter, runner.Config{})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	h := &harness{
		runner:  &countingRunner{Runner: r},
		queue:   newFakeQueue(),
		sources: &fakeSources{codes: make(map[string]string)},
		history: &fakeHistory{runs: make(map[string]model.RunStatusResponse)},
		mr:      mr,
	}
	publisher := repository.NewMQStatusEventPublisher(h.queue, finalTopic)
	svc, err := New(Config{
		Runner:     h.runner,
		StatusRepo: repository.NewStatusRepository(rc, time.Hour, publisher),
		History:    h.history,
		Sources:    h.sources,
		Challenges: fakeChallenges{
			"sum/python": {StdinTests: []model.StdinTest{{Description: "sum", Stdin: "1 2", ExpectedOutput: "3"}}},
		},
		Cache:          rc,
		Queue:          h.queue,
		RunTopic:       runTopic,
		MaxCodeBytes:   256,
		WorkerPoolSize: 1,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func runMessage(t *testing.T, payload model.RunMessage) *mq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	msg := mq.NewMessage(body)
	msg.ID = payload.RunID
	return msg
}

func jsRequest() model.RunRequest {
	return model.RunRequest{
		Language: "javascript",
		Code:     "function add(a, b) { return a + b }",
		Tests:    []model.TestCase{model.ExpressionTest("adds", "add(1, 2) === 3")},
	}
}

func TestRunRecordsHistory(t *testing.T) {
	h := newHarness(t)
	status, err := h.svc.Run(context.Background(), jsRequest())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if status.Status != model.StatusFinished || status.Result == nil || !status.Result.Passed {
		t.Fatalf("unexpected status: %+v", status)
	}
	if _, ok := h.history.runs[status.RunID]; !ok {
		t.Fatalf("run %s not recorded", status.RunID)
	}
}

func TestRunResolvesChallengeTests(t *testing.T) {
	h := newHarness(t)
	status, err := h.svc.Run(context.Background(), model.RunRequest{
		Language:    "python",
		Code:        "print(sum(map(int, input().split())))",
		ChallengeID: "sum",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if status.Progress.TotalTests != 1 || !status.Result.Passed {
		t.Fatalf("unexpected status: %+v", status)
	}

	_, err = h.svc.Run(context.Background(), model.RunRequest{Language: "python", ChallengeID: "missing"})
	if !appErr.Is(err, appErr.ChallengeNotFound) {
		t.Fatalf("expected ChallengeNotFound, got %v", err)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	in := "1"
	tests := []struct {
		name string
		req  model.RunRequest
		code appErr.ErrorCode
	}{
		{"missing language", model.RunRequest{Code: "x"}, appErr.ValidationFailed},
		{"too large", model.RunRequest{Language: "javascript", Code: string(make([]byte, 257))}, appErr.CodeTooLarge},
		{"unknown language", model.RunRequest{Language: "cobol"}, appErr.LanguageNotSupported},
		{"mixed test", model.RunRequest{Language: "python", Tests: []model.TestCase{{Run: "x", Stdin: &in}}}, appErr.TestCaseInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.Run(context.Background(), tt.req); !appErr.Is(err, tt.code) {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
	if h.runner.calls != 0 {
		t.Fatalf("runner must not be called for rejected requests")
	}
}

func TestSubmitAndHandleMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	runID, pending, err := h.svc.Submit(ctx, SubmitInput{RunRequest: jsRequest()})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if pending.Status != model.StatusPending || pending.Progress.TotalTests != 1 {
		t.Fatalf("unexpected pending status: %+v", pending)
	}
	got, err := h.svc.GetStatus(ctx, runID)
	if err != nil || got.Status != model.StatusPending {
		t.Fatalf("expected pending status, got %+v, %v", got, err)
	}

	msgs := h.queue.messages(runTopic)
	if len(msgs) != 1 || msgs[0].ID != runID {
		t.Fatalf("expected one run message, got %+v", msgs)
	}
	if err := h.svc.HandleMessage(ctx, msgs[0]); err != nil {
		t.Fatalf("handle message: %v", err)
	}

	final, err := h.svc.GetStatus(ctx, runID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if final.Status != model.StatusFinished || final.Result == nil || !final.Result.Passed {
		t.Fatalf("unexpected final status: %+v", final)
	}
	if final.Progress.DoneTests != 1 || final.Timestamps.ReceivedAt != pending.Timestamps.ReceivedAt {
		t.Fatalf("progress or timestamps lost: %+v", final)
	}

	events := h.queue.messages(finalTopic)
	if len(events) != 1 {
		t.Fatalf("expected one final event, got %d", len(events))
	}
	if err := h.svc.HandleFinalStatusMessage(ctx, events[0]); err != nil {
		t.Fatalf("handle final status: %v", err)
	}
	if h.history.runs[runID].Status != model.StatusFinished {
		t.Fatalf("final status not persisted: %+v", h.history.runs[runID])
	}

	// a redelivered message is skipped
	if err := h.svc.HandleMessage(ctx, msgs[0]); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if h.runner.calls != 1 {
		t.Fatalf("expected one execution, got %d", h.runner.calls)
	}
}

func TestSubmitIdempotency(t *testing.T) {
	h := newHarness(t)
	input := SubmitInput{RunRequest: jsRequest(), IdempotencyKey: "key-1"}
	first, _, err := h.svc.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, _, err := h.svc.Submit(context.Background(), input)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first != second {
		t.Fatalf("expected same run id, got %s and %s", first, second)
	}
	if n := len(h.queue.messages(runTopic)); n != 1 {
		t.Fatalf("expected one published message, got %d", n)
	}
}

func TestSubmitPublishFailureReleasesKey(t *testing.T) {
	h := newHarness(t)
	h.queue.err = context.DeadlineExceeded
	_, _, err := h.svc.Submit(context.Background(), SubmitInput{RunRequest: jsRequest(), IdempotencyKey: "key-2"})
	if !appErr.Is(err, appErr.RunCreateFailed) {
		t.Fatalf("expected RunCreateFailed, got %v", err)
	}
	if h.mr.Exists(idempotencyKeyPrefix + "key-2") {
		t.Fatalf("idempotency key must be released")
	}
}

func TestSubmitWithoutQueue(t *testing.T) {
	h := newHarness(t)
	h.svc.queue = nil
	if _, _, err := h.svc.Submit(context.Background(), SubmitInput{RunRequest: jsRequest()}); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestHandleMessageFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing source is requeued without a final status", func(t *testing.T) {
		h := newHarness(t)
		msg := runMessage(t, model.RunMessage{RunID: "r1", Language: "javascript", SourceKey: repository.SourceKey("r1")})
		err := h.svc.HandleMessage(ctx, msg)
		if !appErr.Is(err, appErr.StorageError) {
			t.Fatalf("expected StorageError, got %v", err)
		}
		st, _ := h.svc.GetStatus(ctx, "r1")
		if st.Status != model.StatusPending || st.ErrorCode != int(appErr.StorageError) {
			t.Fatalf("unexpected status: %+v", st)
		}
		if n := len(h.queue.messages(finalTopic)); n != 0 {
			t.Fatalf("expected no final event before retries run out, got %d", n)
		}
		if h.mr.Exists(runLockPrefix + "r1") {
			t.Fatalf("lock must be released for a retry")
		}

		if _, _, err := h.sources.Put(ctx, "r1", "print('late')"); err != nil {
			t.Fatalf("put source: %v", err)
		}
		msg.RetryCount = 1
		if err := h.svc.HandleMessage(ctx, msg); err != nil {
			t.Fatalf("redelivery failed: %v", err)
		}
		st, _ = h.svc.GetStatus(ctx, "r1")
		if st.Status != model.StatusFinished {
			t.Fatalf("expected Finished after redelivery, got %+v", st)
		}
		if n := len(h.queue.messages(finalTopic)); n != 1 {
			t.Fatalf("expected exactly one final event, got %d", n)
		}
	})

	t.Run("last delivery marks the run failed", func(t *testing.T) {
		h := newHarness(t)
		msg := runMessage(t, model.RunMessage{RunID: "r3", Language: "javascript", SourceKey: repository.SourceKey("r3")})
		msg.RetryCount = msg.MaxRetries
		if err := h.svc.HandleMessage(ctx, msg); !appErr.Is(err, appErr.StorageError) {
			t.Fatalf("expected StorageError for the dead letter, got %v", err)
		}
		st, _ := h.svc.GetStatus(ctx, "r3")
		if st.Status != model.StatusFailed || st.ErrorCode != int(appErr.StorageError) {
			t.Fatalf("unexpected status: %+v", st)
		}
		if n := len(h.queue.messages(finalTopic)); n != 1 {
			t.Fatalf("expected one final event, got %d", n)
		}
	})

	t.Run("unsupported language is committed", func(t *testing.T) {
		h := newHarness(t)
		key, _, _ := h.sources.Put(ctx, "r2", "DISPLAY 'HI'.")
		msg := runMessage(t, model.RunMessage{RunID: "r2", Language: "cobol", SourceKey: key})
		if err := h.svc.HandleMessage(ctx, msg); err != nil {
			t.Fatalf("expected nil for a permanent failure, got %v", err)
		}
		st, _ := h.svc.GetStatus(ctx, "r2")
		if st.Status != model.StatusFailed || st.ErrorCode != int(appErr.LanguageNotSupported) {
			t.Fatalf("unexpected status: %+v", st)
		}
	})

	t.Run("malformed messages are committed", func(t *testing.T) {
		h := newHarness(t)
		for _, body := range []string{"{", `{"run_id":"r4"}`} {
			if err := h.svc.HandleMessage(ctx, mq.NewMessage([]byte(body))); err != nil {
				t.Fatalf("%s: expected nil so the message is not retried, got %v", body, err)
			}
		}
		if _, err := h.svc.GetStatus(ctx, "r4"); !appErr.Is(err, appErr.RunNotFound) {
			t.Fatalf("incomplete message must not create a status, got %v", err)
		}
	})
}

func TestAcquireSlotQueueFull(t *testing.T) {
	h := newHarness(t)
	h.svc.sem <- struct{}{}
	if err := h.svc.acquireSlot(context.Background()); !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull, got %v", err)
	}
	h.svc.releaseSlot()
	if err := h.svc.acquireSlot(context.Background()); err != nil {
		t.Fatalf("slot should be free: %v", err)
	}
}

func TestGetStatusFallsBackToHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.history.runs["old"] = model.RunStatusResponse{RunID: "old", Status: model.StatusFinished, Language: "lua"}

	st, err := h.svc.GetStatus(ctx, "old")
	if err != nil || st.Language != "lua" {
		t.Fatalf("expected history status, got %+v, %v", st, err)
	}
	if !h.mr.Exists(repository.StatusKey("old")) {
		t.Fatalf("history status should be cached")
	}

	if _, err := h.svc.GetStatus(ctx, "nope"); !appErr.Is(err, appErr.RunNotFound) {
		t.Fatalf("expected RunNotFound, got %v", err)
	}
	if v, _ := h.mr.Get(repository.StatusKey("nope")); v != cache.NullCacheValue {
		t.Fatalf("missing run should be null-cached, got %q", v)
	}
}

func TestWatchStopsOnFinalStatus(t *testing.T) {
	h := newHarness(t)
	h.history.runs["done"] = model.RunStatusResponse{RunID: "done", Status: model.StatusFinished}
	var seen []model.RunStatus
	err := h.svc.Watch(context.Background(), "done", time.Millisecond, func(st model.RunStatusResponse) error {
		seen = append(seen, st.Status)
		return nil
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(seen) != 1 || seen[0] != model.StatusFinished {
		t.Fatalf("unexpected updates: %v", seen)
	}
}

func TestWatchHonoursContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := h.svc.Submit(context.Background(), SubmitInput{RunRequest: jsRequest()}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	runID := h.queue.messages(runTopic)[0].ID
	calls := 0
	err := h.svc.Watch(ctx, runID, time.Millisecond, func(model.RunStatusResponse) error {
		calls++
		return nil
	})
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("unchanged status must be sent once, got %d", calls)
	}
}
