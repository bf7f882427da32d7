package service

import "context"

// PushContent is one notification as the follower's device renders it.
type PushContent struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushReport summarizes a broadcast across all provider batches.
type PushReport struct {
	Sent   int
	Failed int

	// InvalidTokens are tokens the provider flagged as unregistered or
	// malformed; the caller deactivates the matching devices.
	InvalidTokens []string
}

// NotificationService abstracts the mobile push provider used by the worker.
type NotificationService interface {
	// Broadcast pushes the content to every token, batching to the
	// provider's limits internally. Per-batch failures are counted in the
	// report; a non-nil error means nothing was attempted.
	Broadcast(ctx context.Context, tokens []string, content PushContent) (PushReport, error)
}
