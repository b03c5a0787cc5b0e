// Package events contains the completion event contracts emitted by the
// engine's batch runner. Collaborators consume these from a single
// channel; the engine never calls presentation code directly.
package events

import (
	"time"

	"sxmcli/pkg/contracts/domain"
)

// Type discriminates the events on the completion channel.
type Type string

const (
	TypeFrameReady Type = "frame:ready"
	TypeFitReady   Type = "fit:ready"
	TypeBatchError Type = "batch:error"
	TypeBatchDone  Type = "batch:done"
)

// Event is the envelope carried on the completion channel. Exactly one
// payload field matching Type is set. Token identifies the batch that
// produced the event.
type Event struct {
	Type       Type        `json:"type"`
	Token      string      `json:"token"`
	Timestamp  time.Time   `json:"timestamp"`
	FrameReady *FrameReady `json:"frame_ready,omitempty"`
	FitReady   *FitReady   `json:"fit_ready,omitempty"`
	BatchError *BatchError `json:"batch_error,omitempty"`
	BatchDone  *BatchDone  `json:"batch_done,omitempty"`
}

// FrameReady reports one frame whose metadata finished parsing during a
// batch index run.
type FrameReady struct {
	Path string            `json:"path"`
	Meta *domain.FrameMeta `json:"meta"`
}

// FitReady reports one completed matrix cell fit.
type FitReady struct {
	Row    int              `json:"row"`
	Col    int              `json:"col"`
	Result domain.FitResult `json:"result"`
}

// BatchError reports a per-item failure. The batch continues; the item
// is recorded and skipped.
type BatchError struct {
	Path    string `json:"path,omitempty"`
	Row     int    `json:"row,omitempty"`
	Col     int    `json:"col,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BatchStats summarizes a finished batch.
type BatchStats struct {
	Submitted int           `json:"submitted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Elapsed   time.Duration `json:"elapsed"`
}

// BatchDone is the final event of every batch, cancelled or not. It is
// emitted exactly once per token, after all other events of the batch.
type BatchDone struct {
	Cancelled bool       `json:"cancelled"`
	Stats     BatchStats `json:"stats"`
}
