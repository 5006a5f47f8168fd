package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
)

// errorBody is the JSON shape of an error response.
type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteError writes err as a JSON error response, mapping it to the
// appropriate HTTP status via apperrors.GetHTTPStatus.
func WriteError(w http.ResponseWriter, err error) {
	se := apperrors.GetServiceError(err)
	if se == nil {
		se = apperrors.Internal("internal server error", err)
	}
	WriteJSON(w, se.HTTPStatus, errorBody{Code: string(se.Code), Message: se.Message, Details: se.Details})
}

// WriteJSON writes v as a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON decodes the request body into v, returning an InvalidInput
// ServiceError on failure.
func DecodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.InvalidInput("body", err.Error())
	}
	return nil
}
