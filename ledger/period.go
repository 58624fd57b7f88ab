/*
period.go - Sliding locked-period policy

PURPOSE:
  Decides, from the wall clock alone, which calendar months may still be
  edited. Historical months freeze in two stages:

    editable -> temporarily closed -> officially closed

  Temporarily closed months can still be edited by actors holding the
  period-override capability. Officially closed months are frozen for
  everyone - resource dates in them can never change again.

THE CUTOVER:
  Each month has a single cutover instant: day 4 at 02:30 local time.
  Before that instant the books of the month before last are still open
  (bookkeepers get a grace window to finish the prior month); at or after
  it the window slides forward by one month.

  The comparison is against the actual wall-clock instant, NOT calendar
  day arithmetic. At month boundaries ("is it the 4th yet?") calendar
  shortcuts are off by one; comparing instants is not.

WINDOWS (closed means date < boundary):
  before cutover:  temporarily closed boundary = first day of month-2
                   officially closed boundary  = first day of month-3
  at/after:        temporarily closed boundary = first day of month-1
                   officially closed boundary  = first day of month-2

  Every call site uses the same half-open-window interpretation: a date
  is closed exactly when it is strictly before the boundary.

SEE ALSO:
  - orchestrator.go: Gates every mutation through IsDateEditable
  - stats.go: Stamps closed-at timestamps when windows slide
*/
package ledger

import "time"

// =============================================================================
// PERIOD POLICY - Pure, stateless, deterministic given "now"
// =============================================================================

// PeriodPolicy computes locked-period windows. Zero-value is not usable;
// construct with DefaultPeriodPolicy or set the cutover explicitly.
type PeriodPolicy struct {
	// CutoverDay is the day-of-month on which the editing window slides
	// forward.
	CutoverDay int

	// CutoverHour and CutoverMinute fix the wall-clock time of the slide.
	CutoverHour   int
	CutoverMinute int
}

// DefaultPeriodPolicy returns the production policy: day 4, 02:30 local.
func DefaultPeriodPolicy() PeriodPolicy {
	return PeriodPolicy{CutoverDay: 4, CutoverHour: 2, CutoverMinute: 30}
}

// cutoverInstant returns this month's cutover moment in now's location.
func (p PeriodPolicy) cutoverInstant(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), p.CutoverDay,
		p.CutoverHour, p.CutoverMinute, 0, 0, now.Location())
}

// cutoverExecuted reports whether this month's cutover has happened.
// Exactly at the cutover instant counts as executed.
func (p PeriodPolicy) cutoverExecuted(now time.Time) bool {
	return !now.Before(p.cutoverInstant(now))
}

// MinimumEditableDate returns the earliest resource date that may still be
// edited without the period-override capability. Everything before it is at
// least temporarily closed.
func (p PeriodPolicy) MinimumEditableDate(now time.Time) Date {
	monthStart := DateOf(now).StartOfMonth()
	if p.cutoverExecuted(now) {
		return monthStart.AddMonths(-1)
	}
	return monthStart.AddMonths(-2)
}

// IsTemporarilyClosed reports whether the date falls in a temporarily closed
// period. Edits there require the period-override capability.
func (p PeriodPolicy) IsTemporarilyClosed(date Date, now time.Time) bool {
	return date.Before(p.MinimumEditableDate(now))
}

// IsOfficiallyClosed reports whether the date falls in an officially closed
// period: the temporary window shifted one additional month back. Officially
// closed dates are frozen regardless of capability.
func (p PeriodPolicy) IsOfficiallyClosed(date Date, now time.Time) bool {
	return date.Before(p.MinimumEditableDate(now).AddMonths(-1))
}

// IsDateEditable reports whether a resource date may still be changed at all.
// Temporarily closed dates remain editable (capability permitting); officially
// closed dates never are.
func (p PeriodPolicy) IsDateEditable(date Date, now time.Time) bool {
	return !p.IsOfficiallyClosed(date, now)
}

// OfficialBoundary returns the first editable-or-temporarily-closed date:
// everything before it is officially closed. Exposed for the closing sweep.
func (p PeriodPolicy) OfficialBoundary(now time.Time) Date {
	return p.MinimumEditableDate(now).AddMonths(-1)
}
