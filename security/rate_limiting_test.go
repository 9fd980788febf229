package security

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanEvent(device string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/verify", strings.NewReader(`{}`))
	if device != "" {
		req.Header.Set(ScannerDeviceHeader, device)
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func TestRateLimiter_Allow(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, 2, time.Minute)
	ctx := context.Background()

	key := rateLimitKey("device:door-a")
	mock.ExpectEval(fixedWindowScript, []string{key}, int64(60000)).SetVal(int64(1))
	mock.ExpectEval(fixedWindowScript, []string{key}, int64(60000)).SetVal(int64(2))
	mock.ExpectEval(fixedWindowScript, []string{key}, int64(60000)).SetVal(int64(3))

	for _, want := range []bool{true, true, false} {
		allowed, err := limiter.Allow(ctx, "device:door-a")
		require.NoError(t, err)
		assert.Equal(t, want, allowed)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_DisabledWhenLimitIsZero(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, 0, time.Minute)

	allowed, err := limiter.Allow(context.Background(), "device:door-a")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRateLimit_Middleware(t *testing.T) {
	client, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(client, 1, time.Minute)
	mw := limiter.ScanRateLimit()
	key := rateLimitKey("device:door-a")

	mock.ExpectEval(fixedWindowScript, []string{key}, int64(60000)).SetVal(int64(1))
	e, rec := newScanEvent("door-a")
	require.NoError(t, mw(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectEval(fixedWindowScript, []string{key}, int64(60000)).SetVal(int64(2))
	e, rec = newScanEvent("door-a")
	require.NoError(t, mw(e))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many scans")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRateLimit_FailsOpen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mw := NewRateLimiter(client, 1, time.Minute).ScanRateLimit()

	mock.ExpectEval(fixedWindowScript, []string{rateLimitKey("device:door-a")}, int64(60000)).
		SetErr(errors.New("connection refused"))

	e, rec := newScanEvent("door-a")
	require.NoError(t, mw(e))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScannerIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", scannerIdentity(req))

	req.Header.Set(ScannerDeviceHeader, "  door-a ")
	assert.Equal(t, "device:door-a", scannerIdentity(req))

	req.Header.Set(ScannerDeviceHeader, strings.Repeat("x", 100))
	assert.Len(t, scannerIdentity(req), len("device:")+64)
}
