package json

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dgellow/authbridge/internal/apierror"
	"github.com/dgellow/authbridge/internal/log"
)

// ErrorResponse is the JSON body of every error answered to the browser.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
}

// WriteResponse writes a JSON response with the given status code
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.LogError("Failed to encode JSON response: %v", err)
		return err
	}
	return nil
}

// Write writes a JSON response with 200 OK status
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, statusCode int, kind string, message string) {
	response := ErrorResponse{
		StatusCode: statusCode,
		Error:      kind,
		Message:    message,
	}

	if err := WriteResponse(w, statusCode, response); err != nil {
		http.Error(w, strconv.Itoa(statusCode)+" "+kind+": "+message, statusCode)
	}
}

// WriteAPIError maps err onto the error taxonomy and writes it. Errors
// outside the taxonomy are logged and answered with a generic 500.
func WriteAPIError(w http.ResponseWriter, err error) {
	apiErr := apierror.From(err)
	if apiErr.Kind == apierror.KindInternal || apiErr.Err != nil {
		log.LogErrorWithFields("http", "Request failed", map[string]any{
			"kind":  string(apiErr.Kind),
			"error": err.Error(),
		})
	}
	WriteError(w, apiErr.Status, string(apiErr.Kind), apiErr.Message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, string(apierror.KindUnauthorized), message)
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, string(apierror.KindInternal), message)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteMethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", message)
}
