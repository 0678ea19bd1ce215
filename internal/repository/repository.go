package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/ShopCx/PaymentService/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("status conflict")
	ErrDuplicate      = errors.New("duplicate id")
)

type TxFilter struct {
	Status   domain.TxStatus
	Currency domain.Currency
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// transactionColumn picks the timestamp column stamped by a transition into to.
// Refunds go through MarkRefunded so the owning refund is recorded.
func transactionColumn(to domain.TxStatus) (string, error) {
	switch to {
	case domain.StatusCompleted, domain.StatusFailed:
		return "processed_at", nil
	default:
		return "", fmt.Errorf("invalid target status %q", to)
	}
}

func validRefundTarget(to domain.RefundStatus) error {
	if to == domain.RefundCompleted || to == domain.RefundFailed {
		return nil
	}
	return fmt.Errorf("invalid target status %q", to)
}

// timeLayout is fixed width so stored stamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
