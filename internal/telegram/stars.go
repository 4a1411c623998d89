package telegram

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/evetabi/betledger/internal/domain"
)

// StarsGateway creates and refunds Telegram Stars (XTR) payments.
// The bot API library predates Stars, so both calls go through MakeRequest.
type StarsGateway struct {
	c *Client
}

// NewStarsGateway returns a gateway backed by c.
func NewStarsGateway(c *Client) *StarsGateway {
	return &StarsGateway{c: c}
}

type labeledPrice struct {
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
}

// CreateInvoice returns an invoice link whose payload is req.Reference.
// Stars invoices carry no provider token.
func (g *StarsGateway) CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Currency != domain.CurrencyStars {
		return "", fmt.Errorf("telegram.CreateInvoice: %w", domain.ErrExternalPaymentUnsupported)
	}

	params := tgbotapi.Params{}
	params["title"] = req.Title
	params["description"] = req.Description
	params["payload"] = req.Reference
	params["currency"] = string(domain.CurrencyStars)
	if err := params.AddInterface("prices", []labeledPrice{{Label: req.Title, Amount: req.Amount.IntPart()}}); err != nil {
		return "", fmt.Errorf("telegram.CreateInvoice: encode prices: %w", err)
	}

	resp, err := g.c.bot.MakeRequest("createInvoiceLink", params)
	if err != nil {
		return "", domain.External("telegram", fmt.Errorf("createInvoiceLink: %w", err))
	}
	var link string
	if err := json.Unmarshal(resp.Result, &link); err != nil {
		return "", domain.External("telegram", fmt.Errorf("createInvoiceLink: decode result: %w", err))
	}
	return link, nil
}

// Refund returns a confirmed Stars payment to the user.
func (g *StarsGateway) Refund(ctx context.Context, userID int64, providerChargeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonZero64("user_id", userID)
	params["telegram_payment_charge_id"] = providerChargeID

	if _, err := g.c.bot.MakeRequest("refundStarPayment", params); err != nil {
		return domain.External("telegram", fmt.Errorf("refundStarPayment: %w", err))
	}
	g.c.logger.Info("stars payment refunded", "user_id", userID, "charge_id", providerChargeID)
	return nil
}
