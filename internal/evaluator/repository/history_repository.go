package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"nodeo/internal/common/db"
	"nodeo/internal/evaluator/model"
	appErr "nodeo/pkg/errors"
)

const historySchema = `CREATE TABLE IF NOT EXISTS run_history (
  run_id        VARCHAR(64)  NOT NULL PRIMARY KEY,
  language      VARCHAR(32)  NOT NULL,
  challenge_id  VARCHAR(128) NOT NULL DEFAULT '',
  status        VARCHAR(16)  NOT NULL,
  passed        TINYINT(1)   NOT NULL DEFAULT 0,
  error_code    INT          NOT NULL DEFAULT 0,
  error_message TEXT         NULL,
  result_json   MEDIUMTEXT   NULL,
  time_seconds  DOUBLE       NOT NULL DEFAULT 0,
  memory_kb     BIGINT       NOT NULL DEFAULT 0,
  received_at   BIGINT       NOT NULL DEFAULT 0,
  finished_at   BIGINT       NOT NULL DEFAULT 0,
  KEY idx_run_history_challenge (challenge_id, finished_at)
)`

const upsertHistory = `INSERT INTO run_history
  (run_id, language, challenge_id, status, passed, error_code, error_message, result_json, time_seconds, memory_kb, received_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  status = VALUES(status), passed = VALUES(passed), error_code = VALUES(error_code),
  error_message = VALUES(error_message), result_json = VALUES(result_json),
  time_seconds = VALUES(time_seconds), memory_kb = VALUES(memory_kb), finished_at = VALUES(finished_at)`

const selectHistory = `SELECT run_id, language, challenge_id, status, error_code, error_message, result_json, received_at, finished_at
FROM run_history WHERE run_id = ?`

// HistoryRepository keeps finished runs in MySQL.
type HistoryRepository struct {
	provider db.Provider
}

// NewHistoryRepository creates a repository over the provider's database.
func NewHistoryRepository(provider db.Provider) *HistoryRepository {
	return &HistoryRepository{provider: provider}
}

// EnsureSchema creates the run_history table if it is missing.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	if _, err := database.Exec(ctx, historySchema); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "create run_history failed")
	}
	return nil
}

// Save upserts a run. tx may be nil.
func (r *HistoryRepository) Save(ctx context.Context, tx db.Transaction, status model.RunStatusResponse) error {
	if status.RunID == "" {
		return appErr.ValidationError("run_id", "required")
	}
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}

	var (
		passed     bool
		resultJSON []byte
		seconds    float64
		memory     int64
	)
	if status.Result != nil {
		passed = status.Result.Passed
		seconds = status.Result.Time
		memory = status.Result.Memory
		if resultJSON, err = json.Marshal(status.Result); err != nil {
			return fmt.Errorf("marshal result failed: %w", err)
		}
	}

	q := db.GetQuerier(database, tx)
	if _, err := q.Exec(ctx, upsertHistory,
		status.RunID, status.Language, status.ChallengeID, string(status.Status), passed,
		status.ErrorCode, status.ErrorMessage, string(resultJSON), seconds, memory,
		status.Timestamps.ReceivedAt, status.Timestamps.FinishedAt,
	); err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "save run history failed")
	}
	return nil
}

// Get loads a run by id.
func (r *HistoryRepository) Get(ctx context.Context, runID string) (model.RunStatusResponse, error) {
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return model.RunStatusResponse{}, appErr.Wrap(err, appErr.DatabaseError)
	}
	var (
		out        model.RunStatusResponse
		status     string
		errMessage *string
		resultJSON *string
	)
	err = database.QueryRow(ctx, selectHistory, runID).Scan(
		&out.RunID, &out.Language, &out.ChallengeID, &status, &out.ErrorCode, &errMessage, &resultJSON,
		&out.Timestamps.ReceivedAt, &out.Timestamps.FinishedAt,
	)
	if db.IsNoRows(err) {
		return model.RunStatusResponse{}, appErr.New(appErr.RunNotFound).WithDetail("run_id", runID)
	}
	if err != nil {
		return model.RunStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "load run history failed")
	}
	out.Status = model.RunStatus(status)
	if errMessage != nil {
		out.ErrorMessage = *errMessage
	}
	if resultJSON != nil && *resultJSON != "" {
		var res model.ExecutionResult
		if err := json.Unmarshal([]byte(*resultJSON), &res); err != nil {
			return model.RunStatusResponse{}, appErr.Wrapf(err, appErr.DatabaseError, "decode run result failed")
		}
		out.Result = &res
		out.Progress = model.Progress{TotalTests: len(res.Results), DoneTests: len(res.Results)}
	}
	return out, nil
}
