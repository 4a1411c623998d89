package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evetabi/betledger/internal/service"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signature"

const maxWebhookBody = 64 << 10

// PaymentHandler receives payment confirmations from the bot relay.
type PaymentHandler struct {
	dialogue *service.DialogueService
	secret   []byte
}

// NewPaymentHandler creates a PaymentHandler. An empty secret rejects every
// webhook call.
func NewPaymentHandler(dialogue *service.DialogueService, secret string) *PaymentHandler {
	return &PaymentHandler{dialogue: dialogue, secret: []byte(secret)}
}

// SignWebhook returns the signature header value for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Confirm godoc
// POST /api/payments/confirm [HMAC]
// Body: {"reference":"top_up:uuid","provider_charge_id":"..."}
// Replays answer 200 with replayed=true and change nothing.
func (h *PaymentHandler) Confirm(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "could not read body")
		return
	}
	if !h.verify(raw, c.GetHeader(SignatureHeader)) {
		respondError(c, http.StatusUnauthorized, "ERR_INVALID_SIGNATURE", "signature mismatch")
		return
	}

	var body struct {
		Reference        string `json:"reference"`
		ProviderChargeID string `json:"provider_charge_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Reference == "" || body.ProviderChargeID == "" {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "reference and provider_charge_id are required")
		return
	}

	out, err := h.dialogue.OnPaymentConfirmed(c.Request.Context(), body.Reference, body.ProviderChargeID)
	if err != nil {
		respondServiceError(c, err, "could not confirm payment")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"charge":   out.Confirmation.Charge,
		"replayed": out.Confirmation.Replayed,
		"resumed":  out.Resumed,
		"bet":      out.Bet,
	})
}

func (h *PaymentHandler) verify(body []byte, header string) bool {
	if len(h.secret) == 0 || !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(SignWebhook(string(h.secret), body)), []byte(header))
}
