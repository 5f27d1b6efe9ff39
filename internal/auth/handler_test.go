package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	r := chi.NewRouter()
	NewHandler(newTestService(t, 30)).Routes(r)
	return r
}

func call(t *testing.T, h http.Handler, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func TestHandlerSessionLifecycle(t *testing.T) {
	h := newTestRouter(t)

	code, body := call(t, h, "/register", "", `{"name":"Ada","email":"ada@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusCreated, code)
	assert.EqualValues(t, 1, body["id"])

	code, body = call(t, h, "/login", "", `{"email":"ada@example.com","password":"s3cret"}`)
	require.Equal(t, http.StatusOK, code)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	code, body = call(t, h, "/validate", "", `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	assert.EqualValues(t, 1, user["id"])
	assert.Equal(t, "ada@example.com", user["email"])

	code, _ = call(t, h, "/logout", token, "")
	require.Equal(t, http.StatusNoContent, code)

	code, body = call(t, h, "/validate", "", `{"token":"`+token+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestHandlerErrors(t *testing.T) {
	h := newTestRouter(t)
	_, _ = call(t, h, "/register", "", `{"email":"ada@example.com","password":"s3cret"}`)

	cases := []struct {
		name, path, token, body string
		code                    int
		key                     string
	}{
		{"register missing password", "/register", "", `{"email":"x@example.com"}`, http.StatusBadRequest, "validation_error"},
		{"register duplicate", "/register", "", `{"email":"ada@example.com","password":"x"}`, http.StatusBadRequest, "conflict"},
		{"register bad json", "/register", "", `{"email":`, http.StatusBadRequest, "validation_error"},
		{"login wrong password", "/login", "", `{"email":"ada@example.com","password":"nope"}`, http.StatusUnauthorized, "unauthorized"},
		{"validate missing token", "/validate", "", `{}`, http.StatusUnauthorized, "unauthorized"},
		{"validate garbage", "/validate", "", `{"token":"abc"}`, http.StatusUnauthorized, "unauthorized"},
		{"logout without token", "/logout", "", "", http.StatusUnauthorized, "unauthorized"},
		{"logout garbage token", "/logout", "abc", "", http.StatusUnauthorized, "unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := call(t, h, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.key, body["error"])
		})
	}
}

func TestHandlerLoginRateLimit(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(newTestService(t, 2)).Routes(r)

	for i := 0; i < 2; i++ {
		code, _ := call(t, r, "/login", "", `{"email":"ada@example.com","password":"x"}`)
		require.Equal(t, http.StatusUnauthorized, code)
	}
	code, body := call(t, r, "/login", "", `{"email":"ada@example.com","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "rate_limited", body["error"])
}
