package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, Write(w, map[string]bool{"starred": true}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"starred":true}`, w.Body.String())
}

func TestWriteNull(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, Write(w, nil))

	assert.Equal(t, "null\n", w.Body.String())
}

func TestWriteUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()

	WriteUnauthorized(w, "Test error")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, http.StatusUnauthorized, body.StatusCode)
	assert.Equal(t, "unauthorized", body.Error)
	assert.Equal(t, "Test error", body.Message)
}

func TestWriteAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
		wantMsg    string
	}{
		{
			name:       "missing auth state",
			err:        fmt.Errorf("callback: %w", apierror.MissingAuthState()),
			wantStatus: http.StatusBadRequest,
			wantKind:   "missing_auth_state",
			wantMsg:    apierror.MissingAuthState().Message,
		},
		{
			name:       "provider callback",
			err:        apierror.ProviderCallback(errors.New("Invalid code")),
			wantStatus: http.StatusUnauthorized,
			wantKind:   "provider_callback_error",
			wantMsg:    "Invalid code. Please login and try again.",
		},
		{
			name:       "unknown error hides details",
			err:        errors.New("firestore: deadline exceeded"),
			wantStatus: http.StatusInternalServerError,
			wantKind:   "internal_server_error",
			wantMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			WriteAPIError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.wantStatus, body.StatusCode)
			assert.Equal(t, tt.wantKind, body.Error)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}
