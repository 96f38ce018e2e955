package heartbeat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eavops/schema-sync/internal/config"
	"github.com/eavops/schema-sync/internal/heartbeat"
	"github.com/eavops/schema-sync/internal/httpclient"
)

func testClient() httpclient.Client {
	return httpclient.NewDefaultClient(2 * time.Second)
}

func TestSuccessPing(t *testing.T) {
	t.Parallel()

	var method, path, rid string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		rid = r.URL.Query().Get("rid")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	reporter := heartbeat.NewReporterWithClient(server.URL+"/ping/abc", testClient())
	require.NoError(t, reporter.Success(context.Background(), "run-1"))

	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "/ping/abc", path)
	assert.Equal(t, "run-1", rid)
}

func TestSuccessPingWithoutRunID(t *testing.T) {
	t.Parallel()

	var rawQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	reporter := heartbeat.NewReporterWithClient(server.URL+"/ping/abc", testClient())
	require.NoError(t, reporter.Success(context.Background(), ""))
	assert.Empty(t, rawQuery)
}

func TestFailurePing(t *testing.T) {
	t.Parallel()

	var method, path, rid string
	var payload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		rid = r.URL.Query().Get("rid")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	// The trailing slash must not produce a double slash in the fail path.
	reporter := heartbeat.NewReporterWithClient(server.URL+"/ping/abc/", testClient())
	require.NoError(t, reporter.Failure(context.Background(), "run-2", "vcs-command", "push rejected"))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/ping/abc/fail", path)
	assert.Equal(t, "run-2", rid)
	assert.Equal(t, map[string]string{"kind": "vcs-command", "message": "push rejected"}, payload)
}

func TestRetriesOnceOnServerError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	reporter := heartbeat.NewReporterWithClient(server.URL, testClient())
	require.NoError(t, reporter.Success(context.Background(), "run-3"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestReportsDeliveryFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	reporter := heartbeat.NewReporterWithClient(server.URL, testClient())
	err := reporter.Success(context.Background(), "run-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to deliver success heartbeat")
	assert.Equal(t, int32(2), hits.Load())
}

func TestDisabledReporter(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*config.HeartbeatConfig{nil, {URL: ""}} {
		reporter := heartbeat.NewReporter(cfg)
		assert.NoError(t, reporter.Success(context.Background(), "run-5"))
		assert.NoError(t, reporter.Failure(context.Background(), "run-5", "internal", "boom"))
	}
}
