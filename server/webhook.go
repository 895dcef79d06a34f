package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/trellis/engine"
)

// handleWebhook receives table-store push notifications. The endpoint
// answers the url_verification handshake, authenticates callbacks by
// verification token, and acknowledges unknown event kinds so upstream
// does not retry them forever.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var envelope engine.WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "malformed envelope")
		return
	}

	if envelope.Type == engine.EnvelopeURLVerification {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	}

	if s.cfg.VerificationToken != "" && envelope.Token != s.cfg.VerificationToken {
		writeError(w, http.StatusUnauthorized, "invalid verification token")
		return
	}

	evt, ok, err := engine.NormalizeWebhook(envelope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		// Unknown kind: acknowledged, not processed.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err := s.engine.Process(r.Context(), evt); err != nil {
		s.log.Errorw("Webhook event processing failed",
			"table_id", evt.TableID,
			"record_id", evt.RecordID,
			"error", err)
		// Upstream retries on 5xx; the dedup guard makes the retry safe.
		writeError(w, http.StatusBadGateway, "event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
