package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/domain/entity"
	"beacon/internal/domain/service"
)

type fakeDeviceRepo struct {
	devices     []*entity.FollowerDevice
	findErr     error
	deactivated [][]string
}

func (r *fakeDeviceRepo) FindDevicesByVendor(_ context.Context, _ string) ([]*entity.FollowerDevice, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}

	return r.devices, nil
}

func (r *fakeDeviceRepo) DeactivateDevicesByToken(_ context.Context, tokens []string) (int64, error) {
	r.deactivated = append(r.deactivated, tokens)

	return int64(len(tokens)), nil
}

type fakeNotifier struct {
	report    service.PushReport
	err       error
	broadcast [][]string
	contents  []service.PushContent
}

func (n *fakeNotifier) Broadcast(_ context.Context, tokens []string, content service.PushContent) (service.PushReport, error) {
	n.broadcast = append(n.broadcast, tokens)
	n.contents = append(n.contents, content)

	return n.report, n.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHandler(repo *fakeDeviceRepo, notifier *fakeNotifier) *PushHandler {
	return &PushHandler{
		verifyPushAuth:  false,
		logger:          testLogger(),
		notificationSvc: notifier,
		deviceRepo:      repo,
	}
}

func pushRequest(t *testing.T, event service.PresenceEventMessage) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var pushMsg PubSubMessage
	pushMsg.Message.Data = base64.StdEncoding.EncodeToString(data)
	pushMsg.Message.MessageID = "m1"
	body, err := json.Marshal(pushMsg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	return echo.New().NewContext(req, rec), rec
}

func TestHandlePushNotifiesFollowersAndPrunesInvalidTokens(t *testing.T) {
	repo := &fakeDeviceRepo{devices: []*entity.FollowerDevice{
		{VendorID: "v1", FCMToken: "tok-1", IsActive: true},
		{VendorID: "v1", FCMToken: "tok-2", IsActive: true},
	}}
	notifier := &fakeNotifier{report: service.PushReport{
		Sent:          1,
		Failed:        1,
		InvalidTokens: []string{"tok-2"},
	}}
	h := newTestHandler(repo, notifier)

	c, rec := pushRequest(t, service.PresenceEventMessage{
		VendorID: "v1",
		Kind:     entity.EventOnline,
		Address:  "5th & Main",
		Sequence: 1,
	})

	require.NoError(t, h.HandlePush(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, notifier.broadcast, 1)
	assert.Equal(t, []string{"tok-1", "tok-2"}, notifier.broadcast[0])
	assert.Contains(t, notifier.contents[0].Body, "5th & Main")

	require.Len(t, repo.deactivated, 1)
	assert.Equal(t, []string{"tok-2"}, repo.deactivated[0])
}

func TestHandlePushIgnoresNonOnlineEvents(t *testing.T) {
	repo := &fakeDeviceRepo{devices: []*entity.FollowerDevice{
		{VendorID: "v1", FCMToken: "tok-1", IsActive: true},
	}}
	notifier := &fakeNotifier{}
	h := newTestHandler(repo, notifier)

	for _, kind := range []entity.EventKind{entity.EventMoved, entity.EventOffline} {
		c, rec := pushRequest(t, service.PresenceEventMessage{VendorID: "v1", Kind: kind, Sequence: 2})
		require.NoError(t, h.HandlePush(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Empty(t, notifier.broadcast)
}

func TestHandlePushRetriesOnRepositoryFailure(t *testing.T) {
	repo := &fakeDeviceRepo{findErr: errors.New("connection refused")}
	h := newTestHandler(repo, &fakeNotifier{})

	c, rec := pushRequest(t, service.PresenceEventMessage{
		VendorID: "v1",
		Kind:     entity.EventOnline,
		Sequence: 1,
	})

	require.NoError(t, h.HandlePush(c))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlePushRejectsMalformedData(t *testing.T) {
	h := newTestHandler(&fakeDeviceRepo{}, &fakeNotifier{})

	var pushMsg PubSubMessage
	pushMsg.Message.Data = "not-base64!!!"
	body, err := json.Marshal(pushMsg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/push", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, h.HandlePush(echo.New().NewContext(req, rec)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
