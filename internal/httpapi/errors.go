package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"gatehouse.dev/internal/errs"
)

var denialMessages = map[errs.Reason]string{
	errs.AuthenticationRequired: "authentication required",
	errs.InvalidToken:           "invalid token",
	errs.ExpiredToken:           "token expired",
	errs.Forbidden:              "insufficient permissions",
}

// respond maps a service error onto the HTTP error contract. Causes of 5xx
// responses are logged, never written to the body.
func (a *API) respond(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := errs.ReasonOf(err); ok {
		code := http.StatusUnauthorized
		if reason == errs.Forbidden {
			code = http.StatusForbidden
		} else {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`", error="`+string(reason)+`"`)
		}
		writeDenial(w, r, code, reason)
		return
	}
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errs.IsRetryable(err) || errors.Is(err, errs.ErrInfrastructure):
		a.logger.Warn("request failed on infrastructure",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(errors.Unwrap(err)),
			zap.String("op", err.Error()),
		)
		w.Header().Set("Retry-After", strconv.Itoa(1))
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		a.logger.Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func writeDenial(w http.ResponseWriter, r *http.Request, code int, reason errs.Reason) {
	payload := map[string]any{
		"error":  denialMessages[reason],
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errs.Validation("request body is required")
		case errors.As(err, &tooLarge):
			return errs.Validation("request body too large")
		}
		return errs.Validation("invalid JSON body: %s", err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errs.Validation("unexpected data after JSON body")
	}
	return nil
}

func parsePositiveInt(raw, name string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 0, errs.Validation("%s must be a positive integer", name)
	}
	return val, nil
}

func parseOptionalBool(raw, name string) (*bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errs.Validation("%s must be true or false", name)
	}
	return &val, nil
}

type pageParams struct {
	page, limit               int
	search, sortBy, sortOrder string
}

func parsePage(r *http.Request) (pageParams, error) {
	q := r.URL.Query()
	page, err := parsePositiveInt(q.Get("page"), "page")
	if err != nil {
		return pageParams{}, err
	}
	limit, err := parsePositiveInt(q.Get("limit"), "limit")
	if err != nil {
		return pageParams{}, err
	}
	order := strings.ToLower(strings.TrimSpace(q.Get("sortOrder")))
	if order != "" && order != "asc" && order != "desc" {
		return pageParams{}, errs.Validation("sortOrder must be asc or desc")
	}
	return pageParams{
		page:      page,
		limit:     limit,
		search:    q.Get("search"),
		sortBy:    q.Get("sortBy"),
		sortOrder: order,
	}, nil
}
