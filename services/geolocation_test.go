package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lac-hong-legacy/academy_api/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeolocation(t *testing.T, apiURL string) *GeolocationService {
	t.Helper()
	_, redisSvc := newTestRedis(t)
	return &GeolocationService{
		httpClient:  &http.Client{Timeout: time.Second},
		apiURL:      apiURL,
		redisSvc:    redisSvc,
		cacheExpiry: time.Hour,
	}
}

func TestLocate_InternalAndInvalidAddresses(t *testing.T) {
	svc := newTestGeolocation(t, "")
	ctx := context.Background()

	location, err := svc.Locate(ctx, "10.0.0.8")
	require.NoError(t, err)
	assert.Equal(t, Location{}, location)

	_, err = svc.Locate(ctx, "999.1.1.1")
	assert.True(t, shared.IsValidationError(err))
}

func TestLocate_NothingConfigured(t *testing.T) {
	svc := newTestGeolocation(t, "")

	location, err := svc.Locate(context.Background(), "203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, Location{}, location)
}

func TestLocate_APILookupIsCached(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/203.0.113.5", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","country":"Vietnam","city":"Hanoi"}`))
	}))
	defer server.Close()

	svc := newTestGeolocation(t, server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		location, err := svc.Locate(ctx, "203.0.113.5")
		require.NoError(t, err)
		assert.Equal(t, Location{Country: "Vietnam", City: "Hanoi"}, location)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	require.NoError(t, svc.ClearCache(ctx))
	_, err := svc.Locate(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestLocate_APIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"fail"}`))
	}))
	defer server.Close()

	svc := newTestGeolocation(t, server.URL)

	_, err := svc.Locate(context.Background(), "203.0.113.5")
	assert.Error(t, err)
}
