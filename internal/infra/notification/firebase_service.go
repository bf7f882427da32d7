// Package notification implements the push provider on Firebase Cloud
// Messaging.
package notification

import (
	"context"
	"log/slog"

	"beacon/internal/domain/service"
	"beacon/internal/errors"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// fcmBatchLimit is Firebase's cap on tokens per multicast request.
const fcmBatchLimit = 500

type fcmService struct {
	client *messaging.Client
	logger *slog.Logger
}

// NewFirebaseService builds the FCM-backed notification service.
func NewFirebaseService(ctx context.Context, credentialsPath string, logger *slog.Logger) (service.NotificationService, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, errors.Wrap(err, "initialize firebase app")
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create messaging client")
	}

	return &fcmService{client: client, logger: logger}, nil
}

// Broadcast multicasts the content to every token, chunked to FCM's batch
// limit. A batch that fails outright counts its whole chunk as failed and the
// broadcast moves on; only an empty client state aborts.
func (s *fcmService) Broadcast(ctx context.Context, tokens []string, content service.PushContent) (service.PushReport, error) {
	var report service.PushReport
	if len(tokens) == 0 {
		return report, nil
	}

	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(tokens))
		batch := tokens[start:end]

		response, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: content.Title,
				Body:  content.Body,
			},
			Data: content.Data,
		})
		if err != nil {
			s.logger.Error("fcm multicast failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.Any("error", err),
			)
			report.Failed += len(batch)

			continue
		}

		report.Sent += response.SuccessCount
		report.Failed += response.FailureCount
		report.InvalidTokens = append(report.InvalidTokens, invalidTokensOf(batch, response)...)
	}

	return report, nil
}

// invalidTokensOf picks the tokens FCM rejected as unregistered or malformed
// so the caller can deactivate them instead of retrying forever.
func invalidTokensOf(batch []string, response *messaging.BatchResponse) []string {
	var invalid []string
	for idx, send := range response.Responses {
		if send.Error == nil {
			continue
		}
		if messaging.IsUnregistered(send.Error) || messaging.IsInvalidArgument(send.Error) {
			invalid = append(invalid, batch[idx])
		}
	}

	return invalid
}
