package mgmt

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surgews/surge/internal/cleanup"
	"github.com/surgews/surge/internal/config"
	"github.com/surgews/surge/internal/health"
)

const testAPIKey = "test-key"

// testApp builds the admin API over a default config store.
func testApp(t *testing.T, apiKey string) (*fiber.App, *config.Store) {
	t.Helper()
	logger := zerolog.Nop()

	cfg := config.Default()
	cfg.Admin.APIKey = apiKey
	store := config.NewStore(cfg, "", logger)

	queue := cleanup.NewQueue(cfg.Cleanup.QueueBufferSize)
	gov := cleanup.NewGovernor(queue, nil, logger)
	checker := health.NewChecker(logger)

	srv := NewServer(store, gov, checker, logger)
	return srv.App(), store
}

func authedRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", testAPIKey)
	return req
}

func TestServer_Healthz(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	req, _ := http.NewRequest("GET", "/healthz", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Readyz(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	req, _ := http.NewRequest("GET", "/readyz", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AuthRequired(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	req, _ := http.NewRequest("GET", "/api/v1/config", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ = http.NewRequest("GET", "/api/v1/config", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_AuthBearerToken(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	req, _ := http.NewRequest("GET", "/api/v1/config", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_AuthFailClosedWithoutKey(t *testing.T) {
	app, _ := testApp(t, "")

	req, _ := http.NewRequest("GET", "/api/v1/config", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_GetConfig(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	resp, err := app.Test(authedRequest("GET", "/api/v1/config", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg config.Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, 25, cfg.Cleanup.BatchSize)
	assert.Equal(t, config.Auto, cfg.Cleanup.WorkerThreads)
}

func TestServer_UpdateCleanupConfig(t *testing.T) {
	app, store := testApp(t, testAPIKey)

	body := `{"batch_size":40,"worker_threads":2,"async_enabled":false}`
	resp, err := app.Test(authedRequest("PATCH", "/api/v1/cleanup/config", body), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var cl config.Cleanup
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cl))
	assert.Equal(t, 40, cl.BatchSize)
	assert.Equal(t, config.WorkerCount(2), cl.WorkerThreads)
	assert.False(t, cl.AsyncEnabled)

	// Untouched fields keep their values, and the store was updated.
	current := store.Current().Cleanup
	assert.Equal(t, 50000, current.QueueBufferSize)
	assert.Equal(t, 40, current.BatchSize)
}

func TestServer_UpdateCleanupConfig_RejectsInvalid(t *testing.T) {
	app, store := testApp(t, testAPIKey)

	// batch_size above queue_buffer_size fails whole-config validation.
	body := `{"batch_size":100000}`
	resp, err := app.Test(authedRequest("PATCH", "/api/v1/cleanup/config", body), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "invalid_config", problem.Type)
	assert.Contains(t, problem.Detail, "must not exceed")

	assert.Equal(t, 25, store.Current().Cleanup.BatchSize)
}

func TestServer_UpdateCleanupConfig_BadBody(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	resp, err := app.Test(authedRequest("PATCH", "/api/v1/cleanup/config", `{not json`), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CleanupStats(t *testing.T) {
	app, _ := testApp(t, testAPIKey)

	resp, err := app.Test(authedRequest("GET", "/api/v1/cleanup/stats", ""), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		AsyncEnabled bool          `json:"async_enabled"`
		Stats        cleanup.Stats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.AsyncEnabled)
	assert.Equal(t, 50000, body.Stats.QueueCapacity)
	assert.Equal(t, 0, body.Stats.QueueDepth)
}
