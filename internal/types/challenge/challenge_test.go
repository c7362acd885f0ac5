package challenge

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusParticipating.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFail.IsTerminal())
}

func TestNewGoal(t *testing.T) {
	g, err := NewGoal(TypeCount, 5, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, CountGoal{Target: 5}, g)

	g, err = NewGoal(TypeAmount, 0, decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.Equal(t, TypeAmount, g.Type())

	_, err = NewGoal("DISTANCE", 1, decimal.Zero)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestGoalReachedAtExactTarget(t *testing.T) {
	count := CountGoal{Target: 3}
	assert.False(t, count.Reached(Progress{Count: 2}))
	assert.True(t, count.Reached(Progress{Count: 3}))

	amount := AmountGoal{Target: decimal.NewFromInt(100000)}
	assert.False(t, amount.Reached(Progress{Amount: decimal.NewFromInt(99999)}))
	assert.True(t, amount.Reached(Progress{Amount: decimal.NewFromInt(100000)}))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "40000", want: "40000"},
		{raw: " 1250.50 ", want: "1250.5"},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "-500", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, got.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParticipationCovers(t *testing.T) {
	p := Participation{
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC),
	}
	seoul := time.FixedZone("KST", 9*3600)

	assert.True(t, p.Covers(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Covers(time.Date(2025, 7, 14, 23, 59, 0, 0, seoul)))
	assert.False(t, p.Covers(time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Covers(time.Date(2025, 7, 15, 0, 0, 0, 0, seoul)))
}

func TestTransactionUsedOn(t *testing.T) {
	tx := TransactionEvent{UsedDate: "20250703"}
	d, err := tx.UsedOn()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC), d)

	tx.UsedDate = "2025-07-03"
	_, err = tx.UsedOn()
	assert.Error(t, err)
}

func TestBaselineWeeks(t *testing.T) {
	assert.Equal(t, 3, BaselineWeeks(1))
	assert.Equal(t, 12, BaselineWeeks(2))
	assert.Equal(t, 12, BaselineWeeks(4))
}
