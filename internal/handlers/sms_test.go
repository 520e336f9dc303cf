package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jredh-dev/sms-relay/internal/guard"
	"github.com/jredh-dev/sms-relay/internal/sms"
	"github.com/jredh-dev/sms-relay/internal/store"
)

// countingStore wraps a real store and counts calls.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	inserts int
	latests int
}

func (c *countingStore) Insert(ctx context.Context, m sms.Message) (*sms.Message, error) {
	c.mu.Lock()
	c.inserts++
	c.mu.Unlock()
	return c.Store.Insert(ctx, m)
}

func (c *countingStore) Latest(ctx context.Context, norm string) (*sms.Message, error) {
	c.mu.Lock()
	c.latests++
	c.mu.Unlock()
	return c.Store.Latest(ctx, norm)
}

// brokenStore fails every operation like an unreachable database.
type brokenStore struct{ store.Store }

func (brokenStore) Insert(context.Context, sms.Message) (*sms.Message, error) {
	return nil, errors.Join(store.ErrStorage, errors.New("connection refused"))
}

func (brokenStore) Latest(context.Context, string) (*sms.Message, error) {
	return nil, errors.Join(store.ErrStorage, errors.New("connection refused"))
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []sms.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, m sms.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, m)
	return p.err
}

// blockingPublisher holds every publish until release is closed, like a
// broker that accepts connections but never answers.
type blockingPublisher struct {
	release chan struct{}
	done    chan error
}

func (p *blockingPublisher) Publish(ctx context.Context, _ sms.Message) error {
	var err error
	select {
	case <-p.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.done <- err
	return err
}

func testStore(t *testing.T) *countingStore {
	t.Helper()
	path := t.TempDir() + "/test.db"
	db, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err, "open test db")
	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	require.NoError(t, db.Bootstrap(context.Background()))
	return &countingStore{Store: db}
}

func testRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func formPost(target string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeLatest(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestIngestThenLookup(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	w := do(r, formPost("/sms/incoming", url.Values{
		"from":    {"+15550001234"},
		"to":      {"+1 202-555-1234"},
		"message": {"hello"},
		"sms_id":  {"abc"},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", w.Body.String())

	got := decodeLatest(t, do(r, httptest.NewRequest(http.MethodGet, "/sms/latest?to=12025551234", nil)))
	assert.Equal(t, "12025551234", got["to"])
	assert.Equal(t, true, got["found"])
	assert.Equal(t, "hello", got["message"])
}

func TestLookup_ReturnsNewest(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	for _, body := range []string{"first", "second"} {
		w := do(r, formPost("/sms/incoming", url.Values{"to": {"0012025551234"}, "message": {body}}))
		require.Equal(t, http.StatusOK, w.Code)
	}

	got := decodeLatest(t, do(r, httptest.NewRequest(http.MethodGet, "/sms/latest?to=%2B1%20(202)%20555-1234", nil)))
	assert.Equal(t, "+1 (202) 555-1234", got["to"], "raw input is echoed")
	assert.Equal(t, "second", got["message"])
}

func TestLookup_NotFound(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	got := decodeLatest(t, do(r, httptest.NewRequest(http.MethodGet, "/sms/latest?to=447700900123", nil)))
	assert.Equal(t, "447700900123", got["to"])
	assert.Equal(t, false, got["found"])
	assert.Contains(t, got, "message")
	assert.Nil(t, got["message"])
}

func TestLookup_EmptyNumberSkipsStore(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	for _, target := range []string{"/sms/latest", "/sms/latest?to=", "/sms/latest?to=%20%20", "/sms/latest?to=abc"} {
		got := decodeLatest(t, do(r, httptest.NewRequest(http.MethodGet, target, nil)))
		assert.Equal(t, false, got["found"], target)
		assert.Nil(t, got["message"], target)
		assert.NotContains(t, got, "to", target)
	}
	assert.Zero(t, s.latests, "empty key must not reach the store")
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{"missing message", url.Values{"to": {"12025551234"}}},
		{"blank message", url.Values{"to": {"12025551234"}, "message": {"   "}}},
		{"missing to", url.Values{"message": {"hi"}}},
		{"blank to", url.Values{"to": {" \t"}, "message": {"hi"}}},
		{"irrelevant fields", url.Values{"foo": {"bar"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore(t)
			r := testRouter(New(s, guard.New("", nil), nil))

			w := do(r, formPost("/sms/incoming", tt.values))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Bad Request", w.Body.String())
			assert.Zero(t, s.inserts)
		})
	}
}

func TestIngest_EmptyRequest(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	w := do(r, httptest.NewRequest(http.MethodPost, "/sms/incoming", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, s.inserts)
}

func TestIngest_GetWithQuery(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	q := url.Values{"from": {"Bank"}, "to": {"+1 202 555 1234"}, "message": {"  code 42  "}}
	w := do(r, httptest.NewRequest(http.MethodGet, "/sms/incoming?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	m, err := s.Latest(context.Background(), "12025551234")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "code 42", m.Body, "values are trimmed")
	assert.Equal(t, "Bank", m.Sender)
	assert.Equal(t, "", m.SMSID)
}

func TestIngest_JSONBody(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	body := `{"from":"+15550001234","to":12025551234,"message":"via json","sms_id":"j-1","extra":{"x":1}}`
	req := httptest.NewRequest(http.MethodPost, "/sms/incoming", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	require.Equal(t, http.StatusOK, do(r, req).Code)

	m, err := s.Latest(context.Background(), "12025551234")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "via json", m.Body)
	assert.Equal(t, "j-1", m.SMSID)
	assert.Equal(t, "12025551234", m.Recipient)
}

func TestIngest_JSONNeedsJSONContentType(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	req := httptest.NewRequest(http.MethodPost, "/sms/incoming", strings.NewReader(`{"to":"1","message":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)
	assert.Zero(t, s.inserts)
}

func TestIngest_MultipartForm(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("to", "+44 7700 900123"))
	require.NoError(t, mw.WriteField("message", "multipart"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/sms/incoming", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.Equal(t, http.StatusOK, do(r, req).Code)

	m, err := s.Latest(context.Background(), "447700900123")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "multipart", m.Body)
}

func TestIngest_SourcePrecedence(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("", nil), nil))

	// Form body wins over query parameters.
	req := formPost("/sms/incoming?to=111&message=from-query", url.Values{"to": {"222"}, "message": {"from-form"}})
	require.Equal(t, http.StatusOK, do(r, req).Code)
	m, err := s.Latest(context.Background(), "222")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "from-form", m.Body)

	// A non-empty form without the fields still wins: no fallback to query.
	req = formPost("/sms/incoming?to=333&message=from-query", url.Values{"unrelated": {"x"}})
	assert.Equal(t, http.StatusBadRequest, do(r, req).Code)

	// Query wins over a JSON body.
	req = httptest.NewRequest(http.MethodPost, "/sms/incoming?to=444&message=from-query",
		strings.NewReader(`{"to":"555","message":"from-json"}`))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, do(r, req).Code)
	m, err = s.Latest(context.Background(), "444")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "from-query", m.Body)

	// A query string holding only the token still counts as the query
	// source, so a JSON body behind ?token= is never read.
	secured := testRouter(New(s, guard.New("s3cret", nil), nil))
	body := `{"to":"666","message":"from-json"}`
	req = httptest.NewRequest(http.MethodPost, "/sms/incoming?token=s3cret", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(secured, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/sms/incoming", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(guard.TokenHeader, "s3cret")
	require.Equal(t, http.StatusOK, do(secured, req).Code)
	m, err = s.Latest(context.Background(), "666")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "from-json", m.Body)
	assert.Equal(t, 3, s.inserts)
}

func TestIngest_StorageFailure(t *testing.T) {
	r := testRouter(New(brokenStore{}, guard.New("", nil), nil))

	w := do(r, formPost("/sms/incoming", url.Values{"to": {"1"}, "message": {"x"}}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/sms/latest?to=1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
}

func TestAuth_BothEndpoints(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("s3cret", nil), nil))
	values := url.Values{"to": {"12025551234"}, "message": {"hi"}}

	for _, target := range []string{"/sms/incoming", "/sms/incoming?token=wrong"} {
		w := do(r, formPost(target, values))
		assert.Equal(t, http.StatusForbidden, w.Code, target)
		assert.Equal(t, "Forbidden", w.Body.String())
	}
	for _, target := range []string{"/sms/latest?to=12025551234", "/sms/latest?to=12025551234&token=wrong"} {
		w := do(r, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusForbidden, w.Code, target)
		assert.JSONEq(t, `{"error":"forbidden"}`, w.Body.String())
	}
	assert.Zero(t, s.inserts)
	assert.Zero(t, s.latests)

	// Header token works for both.
	req := formPost("/sms/incoming", values)
	req.Header.Set(guard.TokenHeader, "s3cret")
	require.Equal(t, http.StatusOK, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/sms/latest?to=12025551234", nil)
	req.Header.Set(guard.TokenHeader, "s3cret")
	got := decodeLatest(t, do(r, req))
	assert.Equal(t, "hi", got["message"])
}

func TestAuth_AllowlistRejectsEvenWithToken(t *testing.T) {
	s := testStore(t)
	r := testRouter(New(s, guard.New("s3cret", []string{"203.0.113.9"}), nil))
	values := url.Values{"to": {"12025551234"}, "message": {"hi"}}

	req := formPost("/sms/incoming?token=s3cret", values)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/sms/latest?to=12025551234&token=s3cret", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, http.StatusForbidden, do(r, req).Code)

	req = formPost("/sms/incoming?token=s3cret", values)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, http.StatusOK, do(r, req).Code)
}

func TestIngest_PublishesStoredMessage(t *testing.T) {
	s := testStore(t)
	pub := &recordingPublisher{}
	h := New(s, guard.New("", nil), pub)
	r := testRouter(h)

	w := do(r, formPost("/sms/incoming", url.Values{"to": {"+1 202-555-1234"}, "message": {"hello"}, "sms_id": {"p-1"}}))
	require.Equal(t, http.StatusOK, w.Code)
	h.Wait()

	require.Len(t, pub.msgs, 1)
	assert.NotZero(t, pub.msgs[0].ID)
	assert.Equal(t, "12025551234", pub.msgs[0].NormRecipient)
	assert.Equal(t, "p-1", pub.msgs[0].SMSID)

	// Rejected requests publish nothing.
	do(r, formPost("/sms/incoming", url.Values{"to": {"1"}}))
	h.Wait()
	assert.Len(t, pub.msgs, 1)
}

func TestIngest_SlowPublisherDoesNotDelayResponse(t *testing.T) {
	s := testStore(t)
	pub := &blockingPublisher{release: make(chan struct{}), done: make(chan error, 1)}
	h := New(s, guard.New("", nil), pub)
	r := testRouter(h)

	ctx, cancel := context.WithCancel(context.Background())
	req := formPost("/sms/incoming", url.Values{"to": {"12025551234"}, "message": {"fast"}}).WithContext(ctx)

	start := time.Now()
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, time.Since(start), time.Second, "response must not wait for the broker")
	assert.Equal(t, 1, s.inserts)

	// The client going away must not cancel the publish.
	cancel()
	close(pub.release)
	h.Wait()
	assert.NoError(t, <-pub.done)
}

func TestIngest_PublishFailureStillOK(t *testing.T) {
	s := testStore(t)
	pub := &recordingPublisher{err: errors.New("broker down")}
	h := New(s, guard.New("", nil), pub)
	r := testRouter(h)

	w := do(r, formPost("/sms/incoming", url.Values{"to": {"12025551234"}, "message": {"kept"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	h.Wait()

	m, err := s.Latest(context.Background(), "12025551234")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "kept", m.Body)
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}
