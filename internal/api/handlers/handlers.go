// Package handlers implements the HTTP handlers for the propgate
// gateway: checkout creation, token grant, the gated chat endpoint and
// its streaming counterpart.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/propgate/propgate/internal/agent"
	"github.com/propgate/propgate/internal/api/middleware"
	"github.com/propgate/propgate/internal/config"
	"github.com/propgate/propgate/internal/guardrails"
	"github.com/propgate/propgate/internal/payment"
	"github.com/propgate/propgate/internal/token"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies. Gateway and Agent may be
// nil when their credentials are absent; the affected endpoints then
// answer with a configuration error instead of panicking.
type Handlers struct {
	Store   token.Store
	Codec   *token.Codec
	Gateway payment.Gateway
	Agent   *agent.Client

	cfg   *config.Config
	quota *FreeQuota
	guard *guardrails.Policy
}

// New creates a Handlers instance. It fails when the prompt blocklist
// contains an invalid pattern.
func New(cfg *config.Config, s token.Store, codec *token.Codec, gw payment.Gateway, ag *agent.Client) (*Handlers, error) {
	var patterns []string
	if cfg.PromptBlocklist != "" {
		patterns = strings.Split(cfg.PromptBlocklist, ",")
	}
	guard, err := guardrails.NewPolicy(cfg.PromptMaxLen, patterns)
	if err != nil {
		return nil, fmt.Errorf("prompt blocklist: %w", err)
	}

	h := &Handlers{
		Store:   s,
		Codec:   codec,
		Gateway: gw,
		Agent:   ag,
		cfg:     cfg,
		guard:   guard,
	}
	if cfg.AllowDemoFree {
		h.quota = NewFreeQuota(cfg.FreeQuota)
	}
	return h, nil
}

// ── Checkout ────────────────────────────────────────────────

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Gateway == nil {
		respondError(w, http.StatusInternalServerError, "payment provider not configured")
		return
	}

	redirectURL, err := h.Gateway.CreateCheckout(r.Context(), returnOrigin(r))
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			respondError(w, http.StatusInternalServerError, "payment provider not configured")
			return
		}
		log.Error().Err(err).Msg("checkout creation failed")
		respondError(w, http.StatusBadGateway, "payment provider unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"redirectUrl": redirectURL})
}

// returnOrigin picks where the hosted checkout page should send the
// buyer back: the calling origin when present, else this host.
func returnOrigin(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

// ── Grant ───────────────────────────────────────────────────

func (h *Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	if h.Gateway == nil || h.Codec == nil {
		respondError(w, http.StatusInternalServerError, "token issuance not configured")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing session_id")
		return
	}

	paid, err := h.Gateway.Verify(r.Context(), sessionID)
	if err != nil || paid == nil {
		respondError(w, http.StatusBadRequest, "invalid session")
		return
	}

	// One session, one token.
	fresh, err := h.Store.GrantSession(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Msg("session grant lookup failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !fresh {
		respondError(w, http.StatusBadRequest, "session already redeemed")
		return
	}

	signed, claims, err := h.Codec.Issue(h.cfg.CreditsPerPurchase, sessionID, h.cfg.TokenTTL)
	if err != nil {
		log.Error().Err(err).Msg("token issuance failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	entry := token.Entry{
		Credits:   claims.Credits,
		Exp:       claims.ExpiresAt.Time,
		SessionID: sessionID,
	}
	if err := h.Store.Put(r.Context(), signed, entry, h.cfg.TokenTTL); err != nil {
		log.Error().Err(err).Msg("token store write failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	log.Info().Str("session", sessionID).Int("credits", claims.Credits).Msg("usage token granted")
	respondJSON(w, http.StatusOK, map[string]string{"token": signed})
}

// ── Chat ────────────────────────────────────────────────────

type chatRequest struct {
	Query    string `json:"query"`
	Question string `json:"question"` // legacy field name
	Mode     string `json:"mode"`
}

func (r chatRequest) prompt() string {
	if r.Query != "" {
		return r.Query
	}
	return r.Question
}

type chatResponse struct {
	Answer          string             `json:"answer"`
	Text            string             `json:"text"`
	Remaining       *int               `json:"remaining,omitempty"`
	Data            []map[string]any   `json:"data,omitempty"`
	ChartSpec       json.RawMessage    `json:"chartSpec,omitempty"`
	Thinking        []string           `json:"thinking,omitempty"`
	ExecutedQueries []agent.QueryTrace `json:"executedQueries,omitempty"`
}

// authorize resolves the request's right to a backend call. It never
// consumes a credit: consumption happens only after the backend call
// fully succeeds. Returns the bearer token ("" in free mode) or writes
// the rejection and returns ok=false.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.quota != nil {
		if !h.quota.Available() {
			respondError(w, http.StatusForbidden, "free quota exhausted")
			return "", false
		}
		return "", true
	}

	tok := middleware.GetBearer(r.Context())
	if tok == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return "", false
	}

	if h.Codec == nil {
		respondError(w, http.StatusServiceUnavailable, "token verification not configured")
		return "", false
	}
	if _, err := h.Codec.Verify(tok); err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			respondError(w, http.StatusUnauthorized, "token expired")
		} else {
			respondError(w, http.StatusUnauthorized, "invalid token")
		}
		return "", false
	}

	// The store is the authority for consumption state.
	entry, err := h.Store.Get(r.Context(), tok)
	if err != nil {
		log.Error().Err(err).Msg("token store read failed")
		respondError(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	switch {
	case entry == nil:
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
		return "", false
	case entry.Credits <= 0:
		respondError(w, http.StatusForbidden, "token exhausted")
		return "", false
	case entry.Expired():
		respondError(w, http.StatusUnauthorized, "token expired")
		return "", false
	}
	return tok, true
}

// settle consumes one credit after a fully successful answer and
// returns the remaining balance when known.
func (h *Handlers) settle(r *http.Request, tok string) *int {
	if h.quota != nil {
		remaining := h.quota.Take()
		return &remaining
	}
	out, err := h.Store.Consume(r.Context(), tok)
	if err != nil {
		log.Error().Err(err).Msg("credit consumption failed")
		return nil
	}
	if !out.Granted {
		// lost the race with a concurrent request on the same token;
		// the answer is already produced, so only log it
		log.Warn().Str("reason", string(out.Reason)).Msg("credit consumption denied after answer")
	}
	if out.Entry != nil {
		remaining := out.Entry.Credits
		return &remaining
	}
	return nil
}

// checkPrompt runs the guardrail policy and writes the rejection when
// the prompt fails it.
func (h *Handlers) checkPrompt(w http.ResponseWriter, raw string) (string, bool) {
	prompt, err := h.guard.Check(raw)
	if err == nil {
		return prompt, true
	}
	var v *guardrails.Violation
	if errors.As(err, &v) && v.Reason == guardrails.ReasonEmpty {
		respondError(w, http.StatusBadRequest, "missing query")
	} else if errors.As(err, &v) {
		respondError(w, http.StatusBadRequest, v.Message)
	} else {
		respondError(w, http.StatusBadRequest, "invalid query")
	}
	return "", false
}

func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt, ok := h.checkPrompt(w, req.prompt())
	if !ok {
		return
	}
	mode, err := agent.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	if h.Agent == nil {
		respondError(w, http.StatusServiceUnavailable, "analytics backend not configured")
		return
	}

	result, err := h.Agent.Ask(r.Context(), prompt, mode)
	if err != nil {
		respondAgentError(w, err)
		return
	}

	resp := chatResponse{
		Answer:          result.Text,
		Text:            result.Text,
		Remaining:       h.settle(r, tok),
		Data:            result.Records,
		ChartSpec:       result.ChartSpec,
		Thinking:        result.Thinking,
		ExecutedQueries: result.ExecutedQueries,
	}
	respondJSON(w, http.StatusOK, resp)
}

// ── Chat stream ─────────────────────────────────────────────

func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.authorize(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("question")
	if strings.TrimSpace(raw) == "" {
		raw = r.URL.Query().Get("query")
	}
	prompt, ok := h.checkPrompt(w, raw)
	if !ok {
		return
	}
	mode, err := agent.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid mode")
		return
	}

	if h.Agent == nil {
		respondError(w, http.StatusServiceUnavailable, "analytics backend not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, err = h.Agent.Stream(r.Context(), prompt, mode, func(ev agent.Event) error {
		if _, werr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// partial text already reached the client; close with an
		// error event carrying a user-safe message only
		log.Error().Err(err).Msg("agent stream failed")
		fmt.Fprint(w, "event: error\ndata: {\"message\":\"service error\"}\n\n")
		flusher.Flush()
		return
	}

	h.settle(r, tok)
}

// ── Health ──────────────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	state := map[string]any{
		"variant": h.cfg.Backend.Variant,
		"payment": h.Gateway != nil,
		"backend": h.Agent != nil,
		"free":    h.quota != nil,
	}

	ok := h.Agent != nil && (h.quota != nil || h.Codec != nil)
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"ok": ok, "config": state})
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAgentError maps a backend failure kind to a caller-facing
// status and a user-safe message; upstream detail stays in the logs.
func respondAgentError(w http.ResponseWriter, err error) {
	var ce *agent.CallError
	if !errors.As(err, &ce) {
		log.Error().Err(err).Msg("agent call failed")
		respondError(w, http.StatusBadGateway, "service error")
		return
	}

	log.Error().Str("kind", string(ce.Kind)).Int("upstream_status", ce.Status).Err(ce).Msg("agent call failed")

	msg := "service error"
	switch ce.Kind {
	case agent.KindTimeout:
		msg = "backend timed out"
	case agent.KindAuth:
		msg = "backend authorization failed"
	case agent.KindNotFound:
		msg = "backend resource not found"
	case agent.KindRateLimited, agent.KindUnavailable:
		msg = "backend temporarily unavailable"
	}
	respondError(w, ce.HTTPStatus(), msg)
}
