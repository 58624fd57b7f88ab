/*
debtguard.go - Cross-entity non-negative debt invariant

PURPOSE:
  A customer's net outstanding debt (incurred minus paid, soft-deleted
  records excluded) must never go negative. Every mutation of a
  debt-participating record runs this check BEFORE the mutation is
  applied, using the proposed delta, so a rejected operation leaves no
  partial ledger adjustment behind.

DELTA CONVENTION:
  The proposed delta is the signed change to the customer's net balance:
    create incurrence of X:   +X
    create payment of X:      -X
    change amount A -> B:     sign * (B - A)
    delete:                   -(sign * A)
  where sign is +1 for incurrence-side kinds and -1 for payments.

SEE ALSO:
  - orchestrator.go: Invokes the guard for kinds with DebtSign != 0
*/
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// DebtGuard validates the non-negative debt invariant. Stateless.
type DebtGuard struct{}

// CheckWouldBeNonNegative reports whether the customer's net debt stays
// non-negative after applying proposedDelta.
func (DebtGuard) CheckWouldBeNonNegative(ctx context.Context, s Store, customerID string, proposedDelta decimal.Decimal) (bool, error) {
	current, err := s.DebtBalance(ctx, customerID)
	if err != nil {
		return false, err
	}
	return !current.Add(proposedDelta).IsNegative(), nil
}
