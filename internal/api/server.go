// Package api wires the ledger's HTTP surface: ingestion, retrieval,
// integrity verification, subscription management, and webhook operator
// endpoints, all behind the rate limiter and bearer-token authenticator.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/terryholliday/proveniq-ledger/internal/appendengine"
	"github.com/terryholliday/proveniq-ledger/internal/authctx"
	"github.com/terryholliday/proveniq-ledger/internal/evidenceblob"
	"github.com/terryholliday/proveniq-ledger/internal/integrity"
	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
	"github.com/terryholliday/proveniq-ledger/internal/ledgerstore"
	"github.com/terryholliday/proveniq-ledger/internal/proofview"
	"github.com/terryholliday/proveniq-ledger/internal/webhook"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Server holds every dependency the HTTP handlers need. Nothing here
// touches net/http except through ServeMux registration — the actual
// domain logic lives in the packages it calls into.
type Server struct {
	store      ledgerstore.Store
	engine     *appendengine.Engine
	proofs     *proofview.Service
	verifier   *integrity.Verifier
	webhooks   *webhook.Service
	worker     *webhook.Worker
	blobs      evidenceblob.Store
	auth       *authctx.Authenticator
	limiter    *GlobalRateLimiter
	activeVer  string
	logger     *slog.Logger
	startedAt  time.Time
}

// Config is every Server dependency, already constructed by the caller.
type Config struct {
	Store         ledgerstore.Store
	Engine        *appendengine.Engine
	Proofs        *proofview.Service
	Verifier      *integrity.Verifier
	Webhooks      *webhook.Service
	Worker        *webhook.Worker
	Blobs         evidenceblob.Store
	Auth          *authctx.Authenticator
	Limiter       *GlobalRateLimiter
	ActiveVersion string
	Logger        *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     cfg.Store,
		engine:    cfg.Engine,
		proofs:    cfg.Proofs,
		verifier:  cfg.Verifier,
		webhooks:  cfg.Webhooks,
		worker:    cfg.Worker,
		blobs:     cfg.Blobs,
		auth:      cfg.Auth,
		limiter:   cfg.Limiter,
		activeVer: cfg.ActiveVersion,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
}

// Handler builds the full mux, wrapped in the rate limiter and the
// authenticator (with /health exempt).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /events/canonical", s.handleIngestCanonical)
	mux.HandleFunc("POST /events", s.handleIngestLegacy)
	mux.HandleFunc("GET /events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /events", s.handleListEvents)
	mux.HandleFunc("GET /assets/{id}/events", s.handleAssetEvents)
	mux.HandleFunc("GET /anchors/{id}/events", s.handleAnchorEvents)

	mux.HandleFunc("GET /integrity/verify", s.handleIntegrityVerify)
	mux.HandleFunc("GET /stats", s.handleStats)

	mux.HandleFunc("POST /subscriptions", s.handleCreateSubscription)
	mux.HandleFunc("GET /subscriptions", s.handleListSubscriptions)
	mux.HandleFunc("GET /subscriptions/{id}", s.handleGetSubscription)
	mux.HandleFunc("DELETE /subscriptions/{id}", s.handleDeleteSubscription)

	mux.HandleFunc("GET /webhooks/stats", s.handleWebhookStats)
	mux.HandleFunc("POST /webhooks/process", s.handleWebhookProcess)
	mux.HandleFunc("GET /webhooks/dead-letter", s.handleListDeadLetters)
	mux.HandleFunc("POST /webhooks/dead-letter/{id}/retry", s.handleRetryDeadLetter)

	mux.HandleFunc("POST /evidence/blobs", s.handleStoreEvidenceBlob)
	mux.HandleFunc("GET /evidence/blobs/{ref}", s.handleGetEvidenceBlob)

	mux.HandleFunc("POST /proofs", s.handleIssueProof)
	mux.HandleFunc("GET /proofs/{id}/validate", s.handleValidateProof)
	mux.HandleFunc("POST /proofs/{id}/revoke", s.handleRevokeProof)

	var handler http.Handler = mux
	if s.auth != nil {
		handler = s.auth.Middleware(map[string]bool{"/health": true})(handler)
	}
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		count = -1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "UP",
		"entry_count": count,
		"uptime_s":    int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleIngestCanonical(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		WriteBadRequest(w, r, ledgererr.KindCanonicalSchemaViolation, "could not read request body")
		return
	}
	result, err := s.engine.Submit(r.Context(), body)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleIngestLegacy(w http.ResponseWriter, r *http.Request) {
	var legacy appendengine.LegacyRequest
	if err := json.NewDecoder(r.Body).Decode(&legacy); err != nil {
		WriteBadRequest(w, r, ledgererr.KindCanonicalSchemaViolation, "malformed legacy request body")
		return
	}
	result, err := s.engine.SubmitLegacy(r.Context(), legacy, s.activeVer)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		WriteError(w, r, translateNotFound(err, ledgererr.KindEventNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries, "limit": limit, "offset": offset})
}

func (s *Server) handleAssetEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.store.ListByAsset(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries, "limit": limit, "offset": offset})
}

func (s *Server) handleAnchorEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	entries, err := s.store.ListByAnchor(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": entries, "limit": limit, "offset": offset})
}

func (s *Server) handleIntegrityVerify(w http.ResponseWriter, r *http.Request) {
	from := queryInt64(r, "from", 1)
	to := queryInt64(r, "to", 1<<62)
	limit := queryInt(r, "limit", integrity.MaxLimit)
	result, err := s.verifier.Verify(r.Context(), from, to, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	head, hasHead, err := s.store.ChainHead(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	resp := map[string]interface{}{"entry_count": count}
	if hasHead {
		resp["head_sequence"] = head.SequenceNumber
		resp["head_entry_hash"] = head.EntryHash
	}
	if s.webhooks != nil {
		if wstats, err := s.webhooks.Stats(r.Context()); err == nil {
			resp["webhooks"] = wstats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req webhook.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, ledgererr.KindInvalidPayload, "malformed subscription body")
		return
	}
	sub, err := s.webhooks.CreateSubscription(r.Context(), req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.webhooks.ListSubscriptions(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.webhooks.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, translateNotFound(err, ledgererr.KindItemNotFound, r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWebhookStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.webhooks.Stats(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleWebhookProcess(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		WriteError(w, r, ledgererr.New(ledgererr.KindInternal, "webhook worker not configured"))
		return
	}
	batchSize := queryInt(r, "batch_size", 25)
	processed, err := s.worker.ProcessBatch(r.Context(), batchSize)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"processed": processed})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	dls, err := s.webhooks.ListDeadLetters(r.Context(), limit, offset)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"dead_letters": dls, "limit": limit, "offset": offset})
}

func (s *Server) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := s.webhooks.RetryDeadLetter(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleIssueProof(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID             string `json:"asset_id"`
		VerificationEventID string `json:"verification_event_id"`
		AssetStateHash      string `json:"asset_state_hash"`
		EvidenceSetHash     string `json:"evidence_set_hash"`
		RulesetVersion      string `json:"ruleset_version"`
		ExpiresAt           string `json:"expires_at"`
		Scope               string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, ledgererr.KindInvalidPayload, "malformed proof issue request")
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		WriteBadRequest(w, r, ledgererr.KindInvalidPayload, "expires_at must be RFC3339")
		return
	}
	createdBy := ""
	if p, ok := authctx.FromContext(r.Context()); ok {
		createdBy = p.ID
	}
	pv, err := s.proofs.Issue(r.Context(), proofview.IssueRequest{
		AssetID:             req.AssetID,
		VerificationEventID: req.VerificationEventID,
		AssetStateHash:      req.AssetStateHash,
		EvidenceSetHash:     req.EvidenceSetHash,
		RulesetVersion:      req.RulesetVersion,
		ExpiresAt:           expiresAt,
		Scope:               req.Scope,
		CreatedBy:           createdBy,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pv)
}

func (s *Server) handleValidateProof(w http.ResponseWriter, r *http.Request) {
	result, err := s.proofs.Validate(r.Context(), r.PathValue("id"), time.Now().UTC())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRevokeProof(w http.ResponseWriter, r *http.Request) {
	if err := s.proofs.Revoke(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStoreEvidenceBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		WriteError(w, r, ledgererr.New(ledgererr.KindInternal, "evidence blob storage not configured"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		WriteBadRequest(w, r, ledgererr.KindInvalidPayload, "could not read evidence body")
		return
	}
	ref, err := s.blobs.Put(r.Context(), data)
	if err != nil {
		WriteError(w, r, ledgererr.Wrap(ledgererr.KindInternal, "evidence blob store failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"storage_ref": ref})
}

func (s *Server) handleGetEvidenceBlob(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		WriteError(w, r, ledgererr.New(ledgererr.KindInternal, "evidence blob storage not configured"))
		return
	}
	ref := r.PathValue("ref")
	data, err := s.blobs.Get(r.Context(), ref)
	if err != nil {
		WriteError(w, r, ledgererr.Wrap(ledgererr.KindItemNotFound, ref, err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func translateNotFound(err error, kind ledgererr.Kind, subject string) error {
	if err == ledgerstore.ErrNotFound {
		return ledgererr.New(kind, subject)
	}
	return err
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pagination(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	offset = queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
