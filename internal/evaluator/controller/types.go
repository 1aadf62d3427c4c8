package controller

import "nodeo/internal/evaluator/model"

// SubmitResponse is the body of an accepted asynchronous run.
type SubmitResponse struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	ReceivedAt int64  `json:"received_at"`
}

const (
	WatchEventStatus = "status"
	WatchEventError  = "error"
)

// WatchEvent is one websocket frame of a run watch.
type WatchEvent struct {
	Type    string                   `json:"type"`
	Status  *model.RunStatusResponse `json:"status,omitempty"`
	Code    int                      `json:"code,omitempty"`
	Message string                   `json:"message,omitempty"`
}
