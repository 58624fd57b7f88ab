/*
orchestrator.go - The ledger-coupled mutation pattern, written once

PURPOSE:
  Every domain service (debts, payments, incurrences, consultations,
  expenses, orders, treatments, supplies) follows the same shape:

    Validating -> Mutating -> AdjustingLedger -> Auditing -> Committing

  Rather than repeating that shape per entity, it is implemented once
  and parameterized by a small per-kind Descriptor:
  which buckets the kind touches, which capability gates custom dates,
  whether it participates in the debt invariant, and whether a blocked
  hard delete falls back to soft delete.

ATOMICITY:
  Each mutation runs inside exactly one WithTx scope. Entity write,
  both aggregate adjustments, and the audit row commit together or not
  at all. There is no partial-completion state visible to callers.

THE COMPENSATING PAIR:
  Updates always issue BOTH aggregate calls - revert the old
  contribution at the old date, apply the new one at the new date - even
  when nothing moved. Keeping the pair mechanically uniform is what
  makes the aggregates auditable.

DELETE FALLBACK:
  A hard delete blocked by an outstanding reference switches to a soft
  delete within the same logical operation (an explicit branch, not
  exception-driven control flow). The reverted contribution is
  re-applied, so from outside the ledger looks untouched.

SEE ALSO:
  - stats.go, audit.go, debtguard.go, period.go: The steps
  - domain package: Descriptors for each concrete kind
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// CapabilityPeriodOverride allows editing records whose resource date is
// temporarily closed. Officially closed dates are frozen regardless.
const CapabilityPeriodOverride = "period.override"

// =============================================================================
// DESCRIPTOR - Everything kind-specific, and nothing else
// =============================================================================

// Descriptor parameterizes the orchestrator for one entity kind.
type Descriptor struct {
	Kind EntityKind

	// Deltas returns the kind's full bucket contributions for a record.
	// Reverting is always Negate(Deltas(e)); the descriptor never encodes
	// signs itself.
	Deltas func(e Entity) []BucketDelta

	// Snapshot returns the stable ordered field list for audit encoding.
	Snapshot func(e Entity) Snapshot

	// DateCapability gates setting an explicit resource date.
	DateCapability string

	// DeleteCapability gates deletion.
	DeleteCapability string

	// DebtSign is +1 for incurrence-side kinds, -1 for payments, 0 for
	// kinds outside the debt invariant.
	DebtSign int

	// ReferenceField names the foreign-key field reported when the store
	// classifies a dangling-reference failure.
	ReferenceField string

	// SoftDeleteOnRestrict enables the delete fallback.
	SoftDeleteOnRestrict bool
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

type Orchestrator struct {
	store  TxStore
	auth   CapabilityChecker
	clock  Clock
	policy PeriodPolicy
	stats  *Aggregator
	audit  Recorder
	guard  DebtGuard
	log    *logrus.Logger

	descriptors map[EntityKind]Descriptor
}

func NewOrchestrator(store TxStore, auth CapabilityChecker, clock Clock, policy PeriodPolicy, log *logrus.Logger) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		store:       store,
		auth:        auth,
		clock:       clock,
		policy:      policy,
		stats:       NewAggregator(),
		log:         log,
		descriptors: make(map[EntityKind]Descriptor),
	}
}

// Register adds a kind's descriptor. Registering twice is a programming error.
func (o *Orchestrator) Register(d Descriptor) {
	if _, dup := o.descriptors[d.Kind]; dup {
		panic(fmt.Sprintf("ledger: descriptor for kind %q registered twice", d.Kind))
	}
	o.descriptors[d.Kind] = d
}

// Aggregator exposes the stats aggregator for read endpoints and sweeps.
func (o *Orchestrator) Aggregator() *Aggregator { return o.stats }

// Policy exposes the period policy for read endpoints.
func (o *Orchestrator) Policy() PeriodPolicy { return o.policy }

// Store exposes the backing store for read-only access.
func (o *Orchestrator) Store() TxStore { return o.store }

// History returns the audit trail for a record, timestamp ascending.
func (o *Orchestrator) History(ctx context.Context, ref EntityRef) ([]UpdateRecord, error) {
	return o.audit.History(ctx, o.store, ref)
}

func (o *Orchestrator) descriptor(kind EntityKind) (Descriptor, error) {
	d, ok := o.descriptors[kind]
	if !ok {
		return Descriptor{}, &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown entity kind %q", kind)}
	}
	return d, nil
}

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
	Entity  Entity
	ActorID string

	// CustomDate sets an explicit resource date instead of today. Requires
	// the kind's DateCapability.
	CustomDate *Date
}

// Create inserts a new record and applies its bucket contributions. No audit
// row is written: there is no prior state to diff.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (string, error) {
	desc, err := o.descriptor(req.Entity.Ref().Kind)
	if err != nil {
		return "", err
	}
	now := o.clock.Now()

	// Validating
	if req.Entity.LedgerAmount().IsNegative() {
		return "", &ValidationError{Field: "amount", Message: "must not be negative"}
	}

	date := DateOf(now)
	if req.CustomDate != nil {
		if !o.auth.HasCapability(req.ActorID, desc.DateCapability) {
			return "", &AuthorizationError{ActorID: req.ActorID, Capability: desc.DateCapability}
		}
		date = *req.CustomDate
	}
	if err := o.gateDate(date, now, req.ActorID); err != nil {
		return "", err
	}
	req.Entity.SetLedgerDate(date)

	err = o.store.WithTx(ctx, func(tx Store) error {
		if err := o.checkDebtInvariant(ctx, tx, desc, req.Entity, signedAmount(desc, req.Entity)); err != nil {
			return err
		}

		// Mutating
		if err := tx.InsertEntity(ctx, req.Entity); err != nil {
			return classifyStoreError(err, desc.ReferenceField)
		}

		// AdjustingLedger
		return o.stats.IncrementAll(ctx, tx, desc.Deltas(req.Entity), date)
	})
	if err != nil {
		o.logOutcome(desc.Kind, req.Entity.Ref().ID, req.ActorID, "create", err)
		return "", err
	}

	o.logOutcome(desc.Kind, req.Entity.Ref().ID, req.ActorID, "create", nil)
	return req.Entity.Ref().ID, nil
}

// =============================================================================
// UPDATE
// =============================================================================

type UpdateRequest struct {
	Ref     EntityRef
	ActorID string
	Reason  string

	// Apply mutates the loaded record's fields (amount, category, notes).
	// Resource date changes go through NewDate, never through Apply.
	Apply func(e Entity) error

	// NewDate moves the record to a different date bucket. Requires the
	// kind's DateCapability; rejected outright on locked records.
	NewDate *Date
}

// Update mutates a record, issues the compensating aggregate pair and records
// one audit row, all in one transaction.
func (o *Orchestrator) Update(ctx context.Context, req UpdateRequest) error {
	desc, err := o.descriptor(req.Ref.Kind)
	if err != nil {
		return err
	}
	now := o.clock.Now()

	err = o.store.WithTx(ctx, func(tx Store) error {
		entity, err := tx.GetEntity(ctx, req.Ref)
		if err != nil {
			return err
		}
		old := entity.Clone()
		oldDate := old.LedgerDate()
		oldDeltas := desc.Deltas(old)

		// Validating: locked state derives from the policy at the OLD date.
		// A locked record's date is permanently frozen; its other fields
		// are frozen too.
		locked := o.policy.IsOfficiallyClosed(oldDate, now)
		if req.NewDate != nil {
			if locked {
				return NewOperationError("date", MsgCannotSetDateLocked)
			}
			if !o.auth.HasCapability(req.ActorID, desc.DateCapability) {
				return &AuthorizationError{ActorID: req.ActorID, Capability: desc.DateCapability}
			}
			if err := o.gateDate(*req.NewDate, now, req.ActorID); err != nil {
				return err
			}
		}
		if locked {
			return NewOperationError(string(desc.Kind), MsgCannotModifyLocked)
		}
		if o.policy.IsTemporarilyClosed(oldDate, now) &&
			!o.auth.HasCapability(req.ActorID, CapabilityPeriodOverride) {
			return &AuthorizationError{ActorID: req.ActorID, Capability: CapabilityPeriodOverride}
		}

		// Mutating
		if req.Apply != nil {
			if err := req.Apply(entity); err != nil {
				return err
			}
		}
		if req.NewDate != nil {
			entity.SetLedgerDate(*req.NewDate)
		}
		if entity.LedgerAmount().IsNegative() {
			return &ValidationError{Field: "amount", Message: "must not be negative"}
		}

		// Re-check the debt invariant with the prospective amount before
		// committing to the change.
		delta := signedAmount(desc, entity).Sub(signedAmount(desc, old))
		if err := o.checkDebtInvariant(ctx, tx, desc, entity, delta); err != nil {
			return err
		}

		if err := tx.UpdateEntity(ctx, entity, old.RowVersion()); err != nil {
			return classifyStoreError(err, desc.ReferenceField)
		}

		// AdjustingLedger: always both calls, even when the date is
		// unchanged - the pair stays mechanically uniform.
		if err := o.stats.IncrementAll(ctx, tx, Negate(oldDeltas), oldDate); err != nil {
			return err
		}
		if err := o.stats.IncrementAll(ctx, tx, desc.Deltas(entity), entity.LedgerDate()); err != nil {
			return err
		}

		// Auditing
		return o.audit.RecordUpdate(ctx, tx, req.Ref,
			desc.Snapshot(old), desc.Snapshot(entity), req.Reason, req.ActorID, now)
	})

	o.logOutcome(desc.Kind, req.Ref.ID, req.ActorID, "update", err)
	return err
}

// =============================================================================
// DELETE
// =============================================================================

type DeleteRequest struct {
	Ref     EntityRef
	ActorID string
}

// Delete removes a record and reverts its contributions. When the store
// reports an outstanding reference, the record is soft-deleted instead and
// the reverted contribution is re-applied - the ledger is left exactly as it
// was. Returns whether the fallback path was taken.
func (o *Orchestrator) Delete(ctx context.Context, req DeleteRequest) (softDeleted bool, err error) {
	desc, err := o.descriptor(req.Ref.Kind)
	if err != nil {
		return false, err
	}
	now := o.clock.Now()

	err = o.store.WithTx(ctx, func(tx Store) error {
		entity, err := tx.GetEntity(ctx, req.Ref)
		if err != nil {
			return err
		}
		date := entity.LedgerDate()
		deltas := desc.Deltas(entity)

		// Validating
		if desc.DeleteCapability != "" && !o.auth.HasCapability(req.ActorID, desc.DeleteCapability) {
			return &AuthorizationError{ActorID: req.ActorID, Capability: desc.DeleteCapability}
		}
		if o.policy.IsOfficiallyClosed(date, now) {
			return NewOperationError(string(desc.Kind), MsgCannotModifyLocked)
		}
		if o.policy.IsTemporarilyClosed(date, now) &&
			!o.auth.HasCapability(req.ActorID, CapabilityPeriodOverride) {
			return &AuthorizationError{ActorID: req.ActorID, Capability: CapabilityPeriodOverride}
		}

		// Re-check the invariant as if the amount were removed.
		if err := o.checkDebtInvariant(ctx, tx, desc, entity, signedAmount(desc, entity).Neg()); err != nil {
			return err
		}

		// Mutating + AdjustingLedger
		switch err := tx.HardDeleteEntity(ctx, req.Ref, entity.RowVersion()); {
		case err == nil:
			return o.stats.IncrementAll(ctx, tx, Negate(deltas), date)

		case errors.Is(err, ErrDeleteRestricted) && desc.SoftDeleteOnRestrict:
			// Fallback: keep the row, flag it deleted, and leave the
			// ledger untouched by issuing the revert/re-apply pair.
			softDeleted = true
			entity.MarkDeleted(now)
			if err := tx.UpdateEntity(ctx, entity, entity.RowVersion()); err != nil {
				return err
			}
			if err := o.stats.IncrementAll(ctx, tx, Negate(deltas), date); err != nil {
				return err
			}
			return o.stats.IncrementAll(ctx, tx, deltas, date)

		default:
			return classifyStoreError(err, desc.ReferenceField)
		}
	})
	if err != nil {
		softDeleted = false
	}

	o.logOutcome(desc.Kind, req.Ref.ID, req.ActorID, "delete", err)
	if softDeleted {
		o.log.WithFields(logrus.Fields{
			"kind": req.Ref.Kind, "id": req.Ref.ID, "actor": req.ActorID,
		}).Info("hard delete restricted, record soft-deleted")
	}
	return softDeleted, err
}

// =============================================================================
// SHARED STEPS
// =============================================================================

// gateDate applies the period policy to a requested resource date: officially
// closed dates are rejected outright, temporarily closed ones require the
// override capability.
func (o *Orchestrator) gateDate(date Date, now time.Time, actorID string) error {
	if !o.policy.IsDateEditable(date, now) {
		return NewOperationError("date", MsgDateInClosedPeriod)
	}
	if o.policy.IsTemporarilyClosed(date, now) &&
		!o.auth.HasCapability(actorID, CapabilityPeriodOverride) {
		return &AuthorizationError{ActorID: actorID, Capability: CapabilityPeriodOverride}
	}
	return nil
}

// signedAmount is the record's contribution to its customer's net debt:
// positive for incurrence-side kinds, negative for payments, zero otherwise.
func signedAmount(desc Descriptor, e Entity) decimal.Decimal {
	switch desc.DebtSign {
	case 0:
		return decimal.Zero
	case -1:
		return e.LedgerAmount().Neg()
	default:
		return e.LedgerAmount()
	}
}

// checkDebtInvariant runs the guard for debt-participating kinds. Must run
// BEFORE the entity mutation is persisted so a rejection leaves no partial
// ledger adjustment.
func (o *Orchestrator) checkDebtInvariant(ctx context.Context, tx Store, desc Descriptor, e Entity, delta decimal.Decimal) error {
	if desc.DebtSign == 0 || delta.IsZero() {
		return nil
	}
	ok, err := o.guard.CheckWouldBeNonNegative(ctx, tx, e.CustomerRef(), delta)
	if err != nil {
		return err
	}
	if !ok {
		return NewOperationError("amount", MsgNegativeRemainingDebt)
	}
	return nil
}

func (o *Orchestrator) logOutcome(kind EntityKind, id, actorID, op string, err error) {
	fields := logrus.Fields{"kind": kind, "id": id, "actor": actorID, "op": op}
	if err != nil {
		o.log.WithFields(fields).WithError(err).Warn("mutation rolled back")
		return
	}
	o.log.WithFields(fields).Debug("mutation committed")
}
