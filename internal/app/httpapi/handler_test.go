package httpapi

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	configsvc "github.com/codeway/config-service/internal/app/services/config"
	"github.com/codeway/config-service/internal/app/storage"
	"github.com/codeway/config-service/internal/logging"
	"github.com/codeway/config-service/internal/middleware"
)

const testAPIToken = "test-api-token"

func quietLogger() *logging.Logger {
	log := logging.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(10 * time.Millisecond)
	return c.cur
}

func generateKeys(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, uid, email string) string {
	t.Helper()
	claims := &middleware.Claims{
		UserID: uid,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(t *testing.T) (*mux.Router, *rsa.PrivateKey) {
	t.Helper()
	log := quietLogger()
	key := generateKeys(t)

	clock := &stepClock{cur: time.UnixMilli(1700000000000)}
	svc := configsvc.New(storage.NewMemory(), log, configsvc.WithClock(clock.Now))

	audit, err := NewAuditLog(16, "", log)
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}

	return NewRouter(Options{
		Config:     svc,
		Logger:     log,
		Audit:      audit,
		AdminAuth:  middleware.NewAuthMiddleware(&key.PublicKey, log, nil),
		APIToken:   middleware.NewAPITokenMiddleware(testAPIToken, log),
		AdminRate:  middleware.NewRateLimiter(1000, time.Minute, log),
		MobileRate: middleware.NewRateLimiter(1000, time.Minute, log),
		AuthRate:   middleware.NewRateLimiter(1000, time.Minute, log),
	}), key
}

func doRequest(router *mux.Router, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestConfigAPIEndToEnd(t *testing.T) {
	router, key := newTestRouter(t)
	bearer := map[string]string{"Authorization": "Bearer " + signToken(t, key, "admin-1", "admin@codeway.co")}
	mobileHeaders := map[string]string{"X-API-Token": testAPIToken}

	// Credentials are enforced on both surfaces.
	if rr := doRequest(router, http.MethodGet, "/api/config/mobile", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("mobile without api token: got %d, want 401", rr.Code)
	}
	if rr := doRequest(router, http.MethodGet, "/api/config/admin", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("admin without bearer: got %d, want 401", rr.Code)
	}

	// First admin read seeds the default document.
	rr := doRequest(router, http.MethodGet, "/api/config/admin", nil, bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin get: got %d, body %s", rr.Code, rr.Body.String())
	}
	doc := decodeMap(t, rr)
	free, ok := doc["freeUsageLimit"].(map[string]interface{})
	if !ok {
		t.Fatalf("seed document missing freeUsageLimit: %v", doc)
	}
	if free["value"] != float64(5) {
		t.Fatalf("seed freeUsageLimit = %v, want 5", free["value"])
	}
	if _, ok := doc["lastModified"]; ok {
		t.Fatalf("seed document should not carry lastModified: %v", doc)
	}

	// First write succeeds without a concurrency token.
	free["value"] = float64(10)
	free["countryValues"] = map[string]interface{}{"FR": float64(20)}
	doc["freeUsageLimit"] = free
	body, _ := json.Marshal(doc)
	rr = doRequest(router, http.MethodPut, "/api/config/admin", body, bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("first update: got %d, body %s", rr.Code, rr.Body.String())
	}
	updated := decodeMap(t, rr)
	firstToken, ok := updated["lastModified"].(float64)
	if !ok || firstToken <= 0 {
		t.Fatalf("first update lastModified = %v, want positive token", updated["lastModified"])
	}
	if updated["lastModifiedBy"] != "admin-1" || updated["lastModifiedByEmail"] != "admin@codeway.co" {
		t.Fatalf("update attribution = %v / %v", updated["lastModifiedBy"], updated["lastModifiedByEmail"])
	}

	// A stale token is rejected and the document stays untouched.
	doc["lastModified"] = firstToken - 1
	body, _ = json.Marshal(doc)
	rr = doRequest(router, http.MethodPut, "/api/config/admin", body, bearer)
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale update: got %d, want 409", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "CONCURRENT_MODIFICATION" {
		t.Fatalf("stale update code = %v", code)
	}
	rr = doRequest(router, http.MethodGet, "/api/config/admin", nil, bearer)
	after := decodeMap(t, rr)
	if after["lastModified"].(float64) != firstToken {
		t.Fatalf("document token changed after conflict: %v", after["lastModified"])
	}

	// The current token is accepted and advances the version.
	doc["lastModified"] = firstToken
	support := doc["supportEmail"].(map[string]interface{})
	support["value"] = "help@codeway.co"
	doc["supportEmail"] = support
	body, _ = json.Marshal(doc)
	rr = doRequest(router, http.MethodPut, "/api/config/admin", body, bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("second update: got %d, body %s", rr.Code, rr.Body.String())
	}
	secondToken := decodeMap(t, rr)["lastModified"].(float64)
	if secondToken <= firstToken {
		t.Fatalf("token did not advance: %v -> %v", firstToken, secondToken)
	}

	// Mobile clients see flattened values with country overrides applied.
	rr = doRequest(router, http.MethodGet, "/api/config/mobile?country=fr", nil, mobileHeaders)
	if rr.Code != http.StatusOK {
		t.Fatalf("mobile get: got %d, body %s", rr.Code, rr.Body.String())
	}
	view := decodeMap(t, rr)
	if view["freeUsageLimit"] != float64(20) {
		t.Fatalf("FR freeUsageLimit = %v, want 20", view["freeUsageLimit"])
	}
	if view["supportEmail"] != "help@codeway.co" {
		t.Fatalf("mobile supportEmail = %v", view["supportEmail"])
	}
	for _, hidden := range []string{"lastModified", "lastModifiedBy", "lastModifiedByEmail"} {
		if _, ok := view[hidden]; ok {
			t.Fatalf("mobile view leaks %s", hidden)
		}
	}

	rr = doRequest(router, http.MethodGet, "/api/config/mobile", nil, mobileHeaders)
	global := decodeMap(t, rr)
	if global["freeUsageLimit"] != float64(10) {
		t.Fatalf("global freeUsageLimit = %v, want 10", global["freeUsageLimit"])
	}

	// Both the successful writes and the rejected one are audited.
	rr = doRequest(router, http.MethodGet, "/api/config/audit", nil, bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("audit get: got %d", rr.Code)
	}
	var entries []AuditEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit entries: %v", err)
	}
	var updates, conflicts int
	for _, e := range entries {
		switch e.Action {
		case auditActionUpdate:
			updates++
		case auditActionConflict:
			conflicts++
		}
		if e.User != "admin-1" {
			t.Fatalf("audit user = %q", e.User)
		}
	}
	if updates != 2 || conflicts != 1 {
		t.Fatalf("audit counts = %d updates, %d conflicts", updates, conflicts)
	}
}

func TestMobileCountryValidation(t *testing.T) {
	router, _ := newTestRouter(t)
	headers := map[string]string{"X-API-Token": testAPIToken}

	rr := doRequest(router, http.MethodGet, "/api/config/mobile?country=FRA", nil, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("long country code: got %d, want 400", rr.Code)
	}
	if code := decodeMap(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Fatalf("validation code = %v", code)
	}

	// An empty country parameter falls back to global values.
	rr = doRequest(router, http.MethodGet, "/api/config/mobile?country=", nil, headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("empty country: got %d, want 200", rr.Code)
	}
}

func TestUpdateValidation(t *testing.T) {
	router, key := newTestRouter(t)
	bearer := map[string]string{"Authorization": "Bearer " + signToken(t, key, "admin-1", "")}

	cases := []struct {
		name string
		body string
	}{
		{"not an object", `[1, 2, 3]`},
		{"missing description", `{"promo": {"value": "A"}}`},
		{"bad country code", `{"promo": {"value": "A", "description": "d", "countryValues": {"fra": "B"}}}`},
		{"malformed overrides", `{"promo": {"value": "A", "description": "d", "countryValues": 7}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(router, http.MethodPut, "/api/config/admin", []byte(tc.body), bearer)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("got %d, body %s", rr.Code, rr.Body.String())
			}
		})
	}

	// Scalar values and underscore keys are not validated as parameters.
	rr := doRequest(router, http.MethodPut, "/api/config/admin", []byte(`{"flag": true, "_meta": {"value": 1}}`), bearer)
	if rr.Code != http.StatusOK {
		t.Fatalf("scalar payload: got %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestVerifyToken(t *testing.T) {
	router, key := newTestRouter(t)

	rr := doRequest(router, http.MethodPost, "/api/auth/verify", nil, map[string]string{
		"Authorization": "Bearer " + signToken(t, key, "user-7", "dev@codeway.co"),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("verify: got %d, body %s", rr.Code, rr.Body.String())
	}
	out := decodeMap(t, rr)
	if out["valid"] != true {
		t.Fatalf("valid = %v", out["valid"])
	}
	user := out["user"].(map[string]interface{})
	if user["uid"] != "user-7" || user["email"] != "dev@codeway.co" {
		t.Fatalf("user = %v", user)
	}

	if rr := doRequest(router, http.MethodPost, "/api/auth/verify", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("verify without token: got %d, want 401", rr.Code)
	}
}

func TestHealthAndNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := doRequest(router, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	if status := decodeMap(t, rr)["status"]; status != "OK" {
		t.Fatalf("health status = %v", status)
	}

	rr = doRequest(router, http.MethodGet, "/nope", nil, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown route: got %d, want 404", rr.Code)
	}
	if path := decodeMap(t, rr)["path"]; path != "/nope" {
		t.Fatalf("not found path = %v", path)
	}
}

func TestAuditLogRing(t *testing.T) {
	log := quietLogger()
	audit, err := NewAuditLog(3, "", log)
	if err != nil {
		t.Fatalf("new audit log: %v", err)
	}

	for i := 0; i < 5; i++ {
		audit.Record(AuditEntry{User: string(rune('a' + i)), Action: auditActionUpdate})
	}

	entries := audit.ListLimit(0)
	if len(entries) != 3 {
		t.Fatalf("retained %d entries, want 3", len(entries))
	}
	// Newest first, oldest evicted.
	if entries[0].User != "e" || entries[2].User != "c" {
		t.Fatalf("unexpected order: %v", entries)
	}

	limited := audit.ListLimit(2)
	if len(limited) != 2 || limited[0].User != "e" {
		t.Fatalf("limited list = %v", limited)
	}
}
