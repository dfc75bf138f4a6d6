package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"flowgen/internal/credentials"
)

const maxCredentialsBody = 5 << 20

// UploadCredentials replaces the active cookie bundle. The body is either
// a multipart form with a "file" field or a raw JSON payload, matching
// what browser cookie exporters produce.
func (a *App) UploadCredentials(w http.ResponseWriter, r *http.Request) {
	raw, err := readCredentialsBody(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	bundle, err := parseCookieJSON(raw)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "body is not a cookie export: "+err.Error())
		return
	}

	count, err := a.Credentials.Replace(bundle)
	if errors.Is(err, credentials.ErrNoUsableCookies) {
		a.error(w, http.StatusBadRequest, "bad_request", "export contains no usable cookies")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Msg("replace credentials")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store credentials")
		return
	}

	a.Logger.Info().Int("cookie_count", count).Msg("credentials replaced")
	a.json(w, http.StatusOK, map[string]any{
		"message":      "credentials updated",
		"cookie_count": count,
	})
}

func readCredentialsBody(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxCredentialsBody); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxCredentialsBody))
	}
	return io.ReadAll(io.LimitReader(r.Body, maxCredentialsBody))
}

// parseCookieJSON accepts both a bare array of cookies and the
// {"cookies": [...]} wrapper some export extensions emit.
func parseCookieJSON(raw []byte) (credentials.Bundle, error) {
	var bundle credentials.Bundle
	if err := json.Unmarshal(raw, &bundle); err == nil {
		return bundle, nil
	}

	var wrapped struct {
		Cookies credentials.Bundle `json:"cookies"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Cookies, nil
}
