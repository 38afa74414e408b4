// Package testutil holds helpers shared by the HTTP tests of the api, db and
// serialmux packages.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// LoopbackAddr is the remote address given to local requests. tsweb only
// serves /debug/ routes to loopback callers.
const LoopbackAddr = "127.0.0.1:12345"

// NewLocalRequest returns a request that appears to come from localhost.
// An empty body sends no body.
func NewLocalRequest(method, target, body string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = LoopbackAddr
	return req
}

// ServeLocal runs a local request through h and returns the recorded response.
func ServeLocal(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, NewLocalRequest(method, target, body))
	return rec
}

// DecodeJSON unmarshals a recorded response body into a T.
func DecodeJSON[T any](t testing.TB, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// AssertStatusCode fails the test, with the body for context, when the
// response status is not want.
func AssertStatusCode(t testing.TB, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}
