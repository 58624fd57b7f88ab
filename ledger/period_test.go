package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clinicware/backoffice/ledger"
)

// The cutover is day 4 at 02:30 local. Before it the books of the month
// before last are still open; at or after it the window slides forward.

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestPeriodPolicy_WindowBeforeCutover(t *testing.T) {
	// GIVEN: June 3rd, before the June cutover (day 4, 02:30)
	// THEN: April is still editable; everything before April 1 is closed

	p := ledger.DefaultPeriodPolicy()
	now := at(2025, time.June, 3, 10, 0)

	assert.Equal(t, ledger.NewDate(2025, time.April, 1), p.MinimumEditableDate(now))
	assert.Equal(t, ledger.NewDate(2025, time.March, 1), p.OfficialBoundary(now))
}

func TestPeriodPolicy_WindowAfterCutover(t *testing.T) {
	// GIVEN: June 10th, after the June cutover
	// THEN: the window has slid: May 1 is the minimum editable date

	p := ledger.DefaultPeriodPolicy()
	now := at(2025, time.June, 10, 12, 0)

	assert.Equal(t, ledger.NewDate(2025, time.May, 1), p.MinimumEditableDate(now))
	assert.Equal(t, ledger.NewDate(2025, time.April, 1), p.OfficialBoundary(now))
}

func TestPeriodPolicy_CutoverInstantIsWallClock(t *testing.T) {
	// The slide happens at the exact instant, not at day granularity.

	p := ledger.DefaultPeriodPolicy()

	before := at(2025, time.June, 4, 2, 29)
	exactly := at(2025, time.June, 4, 2, 30)
	after := at(2025, time.June, 4, 2, 31)

	assert.Equal(t, ledger.NewDate(2025, time.April, 1), p.MinimumEditableDate(before),
		"one minute before the cutover the old window holds")
	assert.Equal(t, ledger.NewDate(2025, time.May, 1), p.MinimumEditableDate(exactly),
		"exactly at the cutover instant counts as executed")
	assert.Equal(t, ledger.NewDate(2025, time.May, 1), p.MinimumEditableDate(after))
}

func TestPeriodPolicy_ClosednessStages(t *testing.T) {
	// GIVEN: June 15th (cutover executed: editable from May 1)
	p := ledger.DefaultPeriodPolicy()
	now := at(2025, time.June, 15, 12, 0)

	cases := []struct {
		name       string
		date       ledger.Date
		temp, offi bool
	}{
		{"today", ledger.NewDate(2025, time.June, 15), false, false},
		{"first editable day", ledger.NewDate(2025, time.May, 1), false, false},
		{"last day of April", ledger.NewDate(2025, time.April, 30), true, false},
		{"first day of April", ledger.NewDate(2025, time.April, 1), true, false},
		{"last day of March", ledger.NewDate(2025, time.March, 31), true, true},
		{"deep history", ledger.NewDate(2024, time.January, 5), true, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.temp, p.IsTemporarilyClosed(c.date, now), "temporarily closed")
			assert.Equal(t, c.offi, p.IsOfficiallyClosed(c.date, now), "officially closed")
			assert.Equal(t, !c.offi, p.IsDateEditable(c.date, now), "editable")
		})
	}
}

func TestPeriodPolicy_YearBoundary(t *testing.T) {
	// GIVEN: January 2nd, before the January cutover
	// THEN: the editable window reaches back into the previous year

	p := ledger.DefaultPeriodPolicy()
	now := at(2026, time.January, 2, 8, 0)

	assert.Equal(t, ledger.NewDate(2025, time.November, 1), p.MinimumEditableDate(now))
	assert.True(t, p.IsTemporarilyClosed(ledger.NewDate(2025, time.October, 31), now))
	assert.True(t, p.IsOfficiallyClosed(ledger.NewDate(2025, time.September, 30), now))
	assert.False(t, p.IsOfficiallyClosed(ledger.NewDate(2025, time.October, 1), now))
}
