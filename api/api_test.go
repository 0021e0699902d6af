package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sexfrance/Authorative-DNS-server/config"
	"github.com/sexfrance/Authorative-DNS-server/registry"
	"github.com/sexfrance/Authorative-DNS-server/store"
)

type memStore struct {
	rows []store.Domain
}

func (m *memStore) ListEnabled(ctx context.Context) ([]store.Domain, error) { return m.rows, nil }
func (m *memStore) Get(ctx context.Context, domain string) (*store.Domain, error) {
	return nil, nil
}
func (m *memStore) Upsert(ctx context.Context, domain, ip string, discord bool) error { return nil }
func (m *memStore) Disable(ctx context.Context, domain string) error                  { return nil }
func (m *memStore) UpdateVerification(ctx context.Context, domain string, verified bool, nameservers []string) error {
	return nil
}

type lookupOK struct{}

func (lookupOK) LookupNS(ctx context.Context, domain string) ([]string, error) {
	return []string{"ns1.cybertemp.xyz."}, nil
}

type fakePusher struct {
	configured bool
}

func (f *fakePusher) Configured() bool                        { return f.configured }
func (f *fakePusher) PushAndReload(ctx context.Context) error { return nil }

func testAPI(t *testing.T) (*API, *registry.Registry) {
	t.Helper()

	cfg := config.Default()

	st := &memStore{rows: []store.Domain{
		{Domain: "example.com", IPAddress: "1.2.3.4", Enabled: true, Verified: true},
		{Domain: "pending.com", IPAddress: "1.2.3.5", Enabled: true},
	}}

	reg := registry.New(cfg, st, lookupOK{})
	require.NoError(t, reg.LoadFromStore(context.Background()))

	return New(cfg, reg, &fakePusher{configured: true}), reg
}

func doRequest(a *API, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)

	return w
}

func Test_Health(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func Test_Stats(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalDomains)
	assert.Equal(t, 1, stats.VerifiedDomains)
	assert.Equal(t, 1, stats.PendingVerification)
	assert.True(t, stats.SupabaseConnected)
}

func Test_ListDomains(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodGet, "/domains", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["example.com","pending.com"]`, w.Body.String())

	// the body is a bare array, decodable as one
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Equal(t, []string{"example.com", "pending.com"}, names)
}

func Test_AddDomain(t *testing.T) {
	a, reg := testAPI(t)

	w := doRequest(a, http.MethodPost, "/domains", `{"domain":"New.COM","ip":"1.2.3.6"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"added"}`, w.Body.String())

	rec, ok := reg.Get("new.com")
	require.True(t, ok)
	assert.Equal(t, registry.StatusPending, rec.Status)
	assert.Equal(t, "1.2.3.6", rec.IP)
}

func Test_AddDomainInvalid(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodPost, "/domains", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Invalid JSON"}`, w.Body.String())

	w = doRequest(a, http.MethodPost, "/domains", `{"domain":"x.com"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing domain or ip"}`, w.Body.String())
}

func Test_RemoveDomain(t *testing.T) {
	a, reg := testAPI(t)

	w := doRequest(a, http.MethodDelete, "/domains/example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"removed"}`, w.Body.String())

	_, ok := reg.Get("example.com")
	assert.False(t, ok)

	w = doRequest(a, http.MethodDelete, "/domains/example.com", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func Test_VerifyDomain(t *testing.T) {
	a, reg := testAPI(t)

	w := doRequest(a, http.MethodPost, "/domains/pending.com/verify", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"domain":"pending.com","verified":true}`, w.Body.String())

	rec, ok := reg.Get("pending.com")
	require.True(t, ok)
	assert.Equal(t, registry.StatusVerified, rec.Status)

	w = doRequest(a, http.MethodPost, "/domains/unknown.com/verify", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func Test_Metrics(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func Test_NoRoute(t *testing.T) {
	a, _ := testAPI(t)

	w := doRequest(a, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, w.Body.String())
}
