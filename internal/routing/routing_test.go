package routing

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"fraudledger/internal/database/boltstore"
	"fraudledger/internal/handlers"
	"fraudledger/internal/ledger"
	"fraudledger/internal/middleware"
	"fraudledger/internal/moderation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

type testServer struct {
	srv  *httptest.Server
	path string
	seq  int
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	store, err := boltstore.Open(boltstore.Options{Path: filepath.Join(dir, "fraudledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	path := filepath.Join(dir, "approved-ledger.jsonl")
	w, err := ledger.Open(path)
	require.NoError(t, err)
	q := ledger.NewQueue(w.Keys(), ledger.WithPendingStore(store.PendingStore()))
	svc := moderation.NewService(w, q, moderation.WithAuditLog(store.AuditStore()))

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		APIKeys:        map[string]string{"risk-ops": testSecret},
		MaxSkew:        5 * time.Minute,
		IdempotencyTTL: time.Hour,
		Limiter:        middleware.NewRateLimiter(100, 100, time.Minute),
		Idempotency:    store.IdempotencyStore(),
	})

	router := SetupRouter(Config{
		Handlers:     handlers.NewHandler(svc),
		Logger:       zerolog.Nop(),
		Auth:         auth,
		MaxBodyBytes: 1 << 20,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, path: path}
}

// do sends a signed request. POSTs get a fresh idempotency key unless one is given.
func (ts *testServer) do(t *testing.T, method, target string, body any, idemKey string) *http.Response {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, ts.srv.URL+target, bytes.NewReader(raw))
	require.NoError(t, err)
	stamp := time.Now().UTC().Format(time.RFC3339)
	ts.seq++
	nonce := "nonce-" + strconv.Itoa(ts.seq)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAPIKey, "Risk-Ops")
	req.Header.Set(middleware.HeaderTimestamp, stamp)
	req.Header.Set(middleware.HeaderNonce, nonce)
	req.Header.Set(middleware.HeaderSignature, middleware.Sign(testSecret, stamp, nonce, raw))
	if method == http.MethodPost {
		if idemKey == "" {
			idemKey = "idem-" + strconv.Itoa(ts.seq)
		}
		req.Header.Set(middleware.HeaderIdempotencyKey, idemKey)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func report(desc string) map[string]any {
	return map[string]any{
		"reporter":              "ops",
		"accountHash":           "acct",
		"merchantHash":          "m1",
		"descriptionTokensHash": desc,
		"description":           "suspicious transfer",
		"amountCents":           12500,
	}
}

func TestRouter_OperationalEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))

	resp, err = http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fraudledger_http_requests_total")
}

func TestRouter_RequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/v1/ledger/tip")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Missing authentication headers", decodeBody[map[string]string](t, resp)["error"])
}

func TestRouter_ReportModerateFlow(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/ledger/report", report("d1"), "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	r1 := decodeBody[moderation.Outcome](t, resp)

	resp = ts.do(t, http.MethodGet, "/v1/ledger/pending/count", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[map[string]int](t, resp)["count"])

	resp = ts.do(t, http.MethodPost, "/v1/ledger/moderate",
		handlers.ModerateRequest{ID: r1.ID, Action: "APPROVE", Moderator: "alice"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	approved := decodeBody[moderation.Outcome](t, resp)
	require.NotNil(t, approved.Hash)

	resp = ts.do(t, http.MethodGet, "/v1/ledger/tip", nil, "")
	tip := decodeBody[handlers.TipResponse](t, resp)
	require.NotNil(t, tip.Tip)
	assert.Equal(t, *approved.Hash, *tip.Tip)

	// Same report again is a duplicate of an approved entry.
	resp = ts.do(t, http.MethodPost, "/v1/ledger/report", report("d1"), "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A different description is a new report.
	resp = ts.do(t, http.MethodPost, "/v1/ledger/report", report("d2"), "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/ledger/audit?limit=5", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	audit := decodeBody[struct {
		Count int `json:"count"`
	}](t, resp)
	assert.Equal(t, 1, audit.Count)

	reopened, err := ledger.Open(ts.path)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Entries())
}

func TestRouter_IdempotencyReplay(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/ledger/report", report("d1"), "client-key-1")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/ledger/report", report("d1"), "client-key-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Duplicate request", decodeBody[map[string]string](t, resp)["error"])
}

func TestRouter_RetryAfterStorageFailure(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/ledger/report", report("d1"), "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	r1 := decodeBody[moderation.Outcome](t, resp)

	// A directory at the ledger path makes the append fail.
	require.NoError(t, os.Mkdir(ts.path, 0o755))
	decision := handlers.ModerateRequest{ID: r1.ID, Action: "APPROVE", Moderator: "alice"}
	resp = ts.do(t, http.MethodPost, "/v1/ledger/moderate", decision, "decide-1")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// The failed attempt did not consume the idempotency key.
	require.NoError(t, os.Remove(ts.path))
	resp = ts.do(t, http.MethodPost, "/v1/ledger/moderate", decision, "decide-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/ledger/moderate", decision, "decide-1")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Duplicate request", decodeBody[map[string]string](t, resp)["error"])
}

func TestRouter_PendingNextEmpty(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/ledger/pending/next", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
