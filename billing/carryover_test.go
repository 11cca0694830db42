package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/invoice-engine/billing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func hourLine(project string, hours string) *billing.Line {
	return &billing.Line{
		ProjectName:   project,
		ActivityName:  "dev",
		DurationHours: decimal.RequireFromString(hours),
		Unit:          billing.UnitHour,
	}
}

func dayLine(project string, hours string) *billing.Line {
	l := hourLine(project, hours)
	l.Unit = billing.UnitDay
	return l
}

// =============================================================================
// FLOOR MECHANICS
// =============================================================================

func TestApplyCarry_ExactHalfUnits_NothingCarried(t *testing.T) {
	// GIVEN: 5400 seconds = 1.5 hours, a whole number of half-hour steps
	// WHEN: Running the carry engine with no opening balance
	// THEN: The full duration is billed and nothing is carried

	lines := []*billing.Line{hourLine("site", "1.5")}

	remaining, err := billing.ApplyCarry(lines, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, lines[0].FlooredHours.Equal(decimal.RequireFromString("1.5")),
		"floored: got %s", lines[0].FlooredHours)
	assert.True(t, remaining.IsZero(), "remaining: got %s", remaining)
}

func TestApplyCarry_PartialHalfUnit_Carried(t *testing.T) {
	// GIVEN: 4500 seconds = 1.25 hours
	// WHEN: Running the carry engine with no opening balance
	// THEN: 1.0 hour is billed and 0.25 is carried forward

	lines := []*billing.Line{hourLine("site", "1.25")}

	remaining, err := billing.ApplyCarry(lines, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, lines[0].FlooredHours.Equal(decimal.NewFromInt(1)),
		"floored: got %s", lines[0].FlooredHours)
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.25")),
		"remaining: got %s", remaining)
}

func TestApplyCarry_OpeningBalance_Reclaimed(t *testing.T) {
	// GIVEN: An opening balance of 0.3 and a 1.25-hour line
	// WHEN: The accumulated remainder (0.55) exceeds a half-hour step
	// THEN: The line absorbs one extra step and only 0.05 stays carried

	lines := []*billing.Line{hourLine("site", "1.25")}

	remaining, err := billing.ApplyCarry(lines, decimal.RequireFromString("0.3"))
	require.NoError(t, err)

	assert.True(t, lines[0].FlooredHours.Equal(decimal.RequireFromString("1.5")),
		"floored: got %s", lines[0].FlooredHours)
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.05")),
		"remaining: got %s", remaining)
}

func TestApplyCarry_RemainderEqualToStep_NotReclaimed(t *testing.T) {
	// GIVEN: An opening balance of 0.25 and a 1.25-hour line
	// WHEN: The accumulated remainder lands exactly on the step (0.5)
	// THEN: Reclaim requires strictly more than a step; the balance is kept

	lines := []*billing.Line{hourLine("site", "1.25")}

	remaining, err := billing.ApplyCarry(lines, decimal.RequireFromString("0.25"))
	require.NoError(t, err)

	assert.True(t, lines[0].FlooredHours.Equal(decimal.NewFromInt(1)),
		"floored: got %s", lines[0].FlooredHours)
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.5")),
		"remaining: got %s", remaining)
}

func TestApplyCarry_GreedyReclaim_FirstEligibleLineAbsorbs(t *testing.T) {
	// GIVEN: Two 1.3-hour lines in deterministic order
	// WHEN: The second line pushes the remainder past a half-hour step
	// THEN: That line absorbs the step; the first one stays floored

	lines := []*billing.Line{hourLine("alpha", "1.3"), hourLine("beta", "1.3")}

	remaining, err := billing.ApplyCarry(lines, decimal.Zero)
	require.NoError(t, err)

	// 1.3 -> floor 1.0, carry 0.3; second 0.3 makes 0.6 > 0.5 -> reclaim.
	assert.True(t, lines[0].FlooredHours.Equal(decimal.NewFromInt(1)))
	assert.True(t, lines[1].FlooredHours.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.1")),
		"remaining: got %s", remaining)
}

func TestApplyCarry_DayUnit_StepIsThreeAndAHalfHours(t *testing.T) {
	// GIVEN: A DAY customer (7 hours per unit, step 3.5 hours) with 10 hours
	// WHEN: Running the carry engine
	// THEN: Two half-days (7 hours) are billed and 3 hours are carried

	lines := []*billing.Line{dayLine("site", "10")}

	remaining, err := billing.ApplyCarry(lines, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, lines[0].FlooredHours.Equal(decimal.NewFromInt(7)),
		"floored: got %s", lines[0].FlooredHours)
	assert.True(t, remaining.Equal(decimal.NewFromInt(3)),
		"remaining: got %s", remaining)
}

func TestApplyCarry_UnsetUnit_RunsWithHourMultiplier(t *testing.T) {
	// GIVEN: A line whose customer never configured a billing unit
	// WHEN: Running the carry engine
	// THEN: The mechanics run unconditionally with multiplier 1

	line := hourLine("site", "2.75")
	line.Unit = billing.UnitUnset

	remaining, err := billing.ApplyCarry([]*billing.Line{line}, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, line.FlooredHours.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.25")))
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestApplyCarry_ConservesHours(t *testing.T) {
	// GIVEN: A mix of lines and an opening balance
	// WHEN: Running the carry engine
	// THEN: sum(floored) + remaining == sum(duration) + opening; hours are
	//       never created or lost

	lines := []*billing.Line{
		hourLine("alpha", "1.25"),
		hourLine("beta", "0.4"),
		hourLine("gamma", "3.85"),
	}
	opening := decimal.RequireFromString("0.2")

	total := opening
	for _, l := range lines {
		total = total.Add(l.DurationHours)
	}

	remaining, err := billing.ApplyCarry(lines, opening)
	require.NoError(t, err)

	billed := decimal.Zero
	for _, l := range lines {
		billed = billed.Add(l.FlooredHours)

		assert.True(t, l.FlooredHours.LessThanOrEqual(l.DurationHours.Add(decimal.RequireFromString("0.5"))),
			"%s: floored %s grew more than one step over %s", l.ProjectName, l.FlooredHours, l.DurationHours)
		assert.True(t, l.FlooredHours.Mod(decimal.RequireFromString("0.5")).IsZero(),
			"%s: floored %s is not a multiple of the step", l.ProjectName, l.FlooredHours)
	}

	assert.True(t, billed.Add(remaining).Equal(total),
		"conservation: billed %s + remaining %s != total %s", billed, remaining, total)
}

func TestApplyCarry_NoLines_BalanceUntouched(t *testing.T) {
	// GIVEN: A customer with an opening balance but no eligible entries
	// WHEN: Running the carry engine over zero lines
	// THEN: The balance passes through unchanged

	remaining, err := billing.ApplyCarry(nil, decimal.RequireFromString("0.25"))
	require.NoError(t, err)
	assert.True(t, remaining.Equal(decimal.RequireFromString("0.25")))
}
