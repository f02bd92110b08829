package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := jsonDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, ErrorParams{Status: http.StatusBadRequest, Code: CodeInvalidJSON, Message: "invalid JSON body"})
		return false
	}

	return true
}

func jsonDecoder(body io.Reader) *json.Decoder {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Status  int
	Code    string
	Message string
	Reason  string // optional, ACCESS_DENIED only
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	msg := p.Message
	if msg == "" {
		msg = http.StatusText(p.Status)
	}
	WriteJSON(w, p.Status, ErrorBody{Error: msg, Code: p.Code, Reason: p.Reason})
}
