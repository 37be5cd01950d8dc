package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/user-manager/internal/apperror"
)

// maxBodyBytes caps request bodies; user payloads are a few hundred bytes.
const maxBodyBytes = 1 << 20

// decodeJSON reads one JSON object from the request body into dst. An
// empty body, malformed JSON and trailing garbage are all ValidationFailed.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("", "Request body is required")
		}
		return apperror.ValidationFailed("", "Invalid JSON in request body")
	}
	if dec.More() {
		return apperror.ValidationFailed("", "Invalid JSON in request body")
	}
	return nil
}

// userID parses the {id} path parameter.
func userID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.ValidationFailed("id", "Invalid user id")
	}
	return id, nil
}
