// Package settlement provides the settlement collaborator used by the payment
// engine. No card network is contacted; outcomes are decided locally.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

var ErrDeclined = errors.New("settlement declined")

type Simulator struct {
	log     *slog.Logger
	decline map[string]struct{}
	latency time.Duration
}

// NewSimulator declines every card whose last four digits are in declineLast4
// and waits latency before answering.
func NewSimulator(log *slog.Logger, declineLast4 []string, latency time.Duration) *Simulator {
	d := make(map[string]struct{}, len(declineLast4))
	for _, l4 := range declineLast4 {
		if l4 != "" {
			d[l4] = struct{}{}
		}
	}
	return &Simulator{log: log, decline: d, latency: latency}
}

func (s *Simulator) Settle(ctx context.Context, amount decimal.Decimal, cardLast4 string) error {
	if s.latency > 0 {
		t := time.NewTimer(s.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, ok := s.decline[cardLast4]; ok {
		return fmt.Errorf("%w: card ending %s", ErrDeclined, cardLast4)
	}

	s.log.Debug("settlement approved", "amount", amount.String(), "card_last4", cardLast4)
	return nil
}
