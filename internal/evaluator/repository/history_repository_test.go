package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"nodeo/internal/common/db"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
)

// fakeDB stores upserted rows keyed by run id and serves them back to QueryRow.
type fakeDB struct {
	execs []string
	rows  map[string][]interface{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: map[string][]interface{}{}}
}

func (f *fakeDB) Query(ctx context.Context, query string, args ...interface{}) (db.Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	return fakeRow{values: f.rows[args[0].(string)]}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	f.execs = append(f.execs, query)
	if strings.HasPrefix(query, "INSERT INTO run_history") {
		errMsg := args[6].(string)
		resultJSON := args[7].(string)
		f.rows[args[0].(string)] = []interface{}{
			args[0], args[1], args[2], args[3], args[5], &errMsg, &resultJSON, args[10], args[11],
		}
	}
	return nil, nil
}

func (f *fakeDB) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	return fn(nil)
}

func (f *fakeDB) Ping(ctx context.Context) error { return nil }
func (f *fakeDB) Close() error                   { return nil }

type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.values == nil {
		return sql.ErrNoRows
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case **string:
			*p = r.values[i].(*string)
		default:
			return fmt.Errorf("unsupported scan type %T", d)
		}
	}
	return nil
}

func TestHistoryRepositorySaveAndGet(t *testing.T) {
	fake := newFakeDB()
	repo := NewHistoryRepository(db.NewStaticProvider(fake))
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if !strings.Contains(fake.execs[0], "CREATE TABLE IF NOT EXISTS run_history") {
		t.Fatalf("unexpected schema statement: %s", fake.execs[0])
	}

	result := &model.ExecutionResult{
		Passed:  false,
		Results: []model.TestResult{{Description: "a", Passed: true}, {Description: "b", Error: "Status: Runtime Error"}},
		Time:    0.5,
		Memory:  2048,
	}
	status := model.RunStatusResponse{
		RunID:       "run-1",
		Language:    "python",
		ChallengeID: "sum",
		Status:      model.StatusFinished,
		Result:      result,
		Timestamps:  model.Timestamps{ReceivedAt: 10, FinishedAt: 12},
	}
	if err := repo.Save(context.Background(), nil, status); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusFinished || got.ChallengeID != "sum" || got.Timestamps.FinishedAt != 12 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Result == nil || len(got.Result.Results) != 2 || got.Result.Memory != 2048 {
		t.Fatalf("result not restored: %+v", got.Result)
	}
	if got.Progress.DoneTests != 2 {
		t.Fatalf("expected progress from results, got %+v", got.Progress)
	}
	want, _ := json.Marshal(result)
	have, _ := json.Marshal(got.Result)
	if string(want) != string(have) {
		t.Fatalf("result changed: %s vs %s", have, want)
	}
}

func TestHistoryRepositoryGetMissing(t *testing.T) {
	repo := NewHistoryRepository(db.NewStaticProvider(newFakeDB()))
	if _, err := repo.Get(context.Background(), "nope"); !appErr.Is(err, appErr.RunNotFound) {
		t.Fatalf("expected RunNotFound, got %v", err)
	}
}

func TestHistoryRepositoryWithoutDatabase(t *testing.T) {
	repo := NewHistoryRepository(db.NewStaticProvider(nil))
	err := repo.Save(context.Background(), nil, model.RunStatusResponse{RunID: "x"})
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected DatabaseError, got %v", err)
	}
}
