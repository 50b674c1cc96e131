package models

import "time"

// CacheOutcome classifies how a single cached stream call ended.
type CacheOutcome string

const (
	// OutcomeHit means the stored text was replayed.
	OutcomeHit CacheOutcome = "hit"
	// OutcomeStored means the producer completed and its text was committed.
	OutcomeStored CacheOutcome = "stored"
	// OutcomeBypass means caching was disabled for the call.
	OutcomeBypass CacheOutcome = "bypass"
	// OutcomeFailed means the producer or the store returned an error.
	OutcomeFailed CacheOutcome = "failed"
	// OutcomeAborted means the call was cancelled or the consumer stopped early.
	OutcomeAborted CacheOutcome = "aborted"
)

// CacheEvent records one decorator call.
type CacheEvent struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Model       string       `json:"model"`
	Outcome     CacheOutcome `json:"outcome"`
	Chunks      int          `json:"chunks"`
	Bytes       int          `json:"bytes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// OutcomeSummary aggregates events by outcome.
type OutcomeSummary struct {
	Outcome CacheOutcome `json:"outcome"`
	Count   int64        `json:"count"`
	Bytes   int64        `json:"bytes"`
}
