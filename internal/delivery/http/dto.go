package httpd

import (
	"encoding/json"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/ShopCx/PaymentService/internal/usecase"
)

type ProcessPaymentResp struct {
	TransactionID string `json:"transactionId"`
	Token         string `json:"token"`
}

type RefundResp struct {
	RefundID      string      `json:"refundId"`
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
}

type VerifyResp struct {
	Valid bool        `json:"valid"`
	Data  TokenClaims `json:"data"`
}

type TokenClaims struct {
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	IssuedAt      int64       `json:"iat"`
	ExpiresAt     int64       `json:"exp"`
}

type ErrorResp struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type TxItem struct {
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	Status        string      `json:"status"`
	CardLast4     string      `json:"cardLast4"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	ProcessedAt   *time.Time  `json:"processedAt,omitempty"`
	RefundedAt    *time.Time  `json:"refundedAt,omitempty"`
	RefundID      string      `json:"refundId,omitempty"`
}

type RefundItem struct {
	RefundID      string      `json:"refundId"`
	TransactionID string      `json:"transactionId"`
	Amount        json.Number `json:"amount"`
	Reason        string      `json:"reason,omitempty"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
	ProcessedAt   *time.Time  `json:"processedAt,omitempty"`
}

func toTxItem(t domain.Transaction) TxItem {
	return TxItem{
		TransactionID: t.ID,
		Amount:        json.Number(t.Amount.String()),
		Currency:      string(t.Currency),
		Status:        string(t.Status),
		CardLast4:     t.CardLast4,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
		ProcessedAt:   t.ProcessedAt,
		RefundedAt:    t.RefundedAt,
		RefundID:      t.RefundID,
	}
}

func toRefundItem(rf domain.Refund) RefundItem {
	return RefundItem{
		RefundID:      rf.ID,
		TransactionID: rf.TransactionID,
		Amount:        json.Number(rf.Amount.String()),
		Reason:        rf.Reason,
		Status:        string(rf.Status),
		CreatedAt:     rf.CreatedAt,
		ProcessedAt:   rf.ProcessedAt,
	}
}

func toRefundResp(res *usecase.RefundResult) RefundResp {
	return RefundResp{
		RefundID:      res.RefundID,
		TransactionID: res.TransactionID,
		Amount:        json.Number(res.Amount.String()),
	}
}
