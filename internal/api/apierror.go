package api

import (
	"encoding/json"
	"net/http"

	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
)

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code"`
}

const problemContentType = "application/problem+json"

// WriteError renders err as an RFC 7807 problem document. If err is a
// *ledgererr.Error its Kind/HTTPStatus/Reason are used directly; any other
// error is folded into INTERNAL_ERROR so internal failure detail is never
// leaked to callers.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var lerr *ledgererr.Error
	if e, ok := err.(*ledgererr.Error); ok {
		lerr = e
	} else {
		lerr = ledgererr.Wrap(ledgererr.KindInternal, "internal error", err)
	}

	pd := ProblemDetail{
		Type:     "https://proveniq.dev/errors/" + string(lerr.Kind),
		Title:    httpTitle(lerr.HTTPStatus()),
		Status:   lerr.HTTPStatus(),
		Detail:   lerr.Detail,
		Instance: r.URL.Path,
		Code:     lerr.Reason(),
	}

	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, ledgererr.New(ledgererr.KindItemNotFound, detail))
}

func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, ledgererr.New(ledgererr.KindUnauthorized, detail))
}

func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, ledgererr.New(ledgererr.KindForbidden, detail))
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, kind ledgererr.Kind, detail string) {
	WriteError(w, r, ledgererr.New(kind, detail))
}

// WriteTooManyRequests renders a 429 problem document for rate-limited
// requests. Rate limiting sits ahead of the closed error-kind taxonomy — it
// is ambient protection, not a domain outcome — so it is not routed through
// ledgererr.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request) {
	pd := ProblemDetail{
		Type:     "https://proveniq.dev/errors/RATE_LIMITED",
		Title:    httpTitle(http.StatusTooManyRequests),
		Status:   http.StatusTooManyRequests,
		Detail:   "too many requests",
		Instance: r.URL.Path,
		Code:     "RATE_LIMITED",
	}
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(pd.Status)
	_ = json.NewEncoder(w).Encode(pd)
}

func httpTitle(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Error"
}
