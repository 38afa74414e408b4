package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON(t *testing.T) {
	mock := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"answer": 42}`).
		AddResponse(http.StatusTooManyRequests, "slow down").
		AddErrorResponse(errors.New("dial failed")).
		AddResponse(http.StatusOK, `not json`)

	var out struct{ Answer int }
	require.NoError(t, GetJSON(context.Background(), mock, "http://forecast.test/a", &out))
	assert.Equal(t, 42, out.Answer)
	assert.Equal(t, "application/json", mock.Requests[0].Header.Get("Accept"))
	assert.Equal(t, "raptorhab-groundstation/dev", mock.Requests[0].Header.Get("User-Agent"))

	err := GetJSON(context.Background(), mock, "http://forecast.test/b", &out)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
	assert.Equal(t, "slow down", se.Body)

	err = GetJSON(context.Background(), mock, "http://forecast.test/c", &out)
	assert.ErrorContains(t, err, "dial failed")

	err = GetJSON(context.Background(), mock, "http://forecast.test/d", &out)
	assert.ErrorContains(t, err, "decode")
	assert.Equal(t, 4, mock.RequestCount())
}

func TestWriteJSONHelpers(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"abc"}`, rec.Body.String())

	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
	}{
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "nope") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "nope") }, http.StatusNotFound},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "nope") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)
			assert.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}
