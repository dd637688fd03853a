package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gyaneshwarpardhi/camreview/internal/codec"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCBOR encodes v as deterministic CBOR.
func writeCBOR(w http.ResponseWriter, status int, v any) {
	b, err := codec.Marshal(v)
	if err != nil {
		slog.Error("cbor encode failed", "err", err)
		writeError(w, http.StatusInternalServerError, "response encoding failed")
		return
	}
	w.Header().Set("Content-Type", codec.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// respond picks CBOR when the client asks for it and JSON otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if strings.Contains(r.Header.Get("Accept"), codec.ContentType) {
		writeCBOR(w, status, v)
		return
	}
	writeJSON(w, status, v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
