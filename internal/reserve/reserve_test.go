package reserve_test

import (
	"SynthVault/internal/math"
	"SynthVault/internal/reserve"
	"SynthVault/internal/vaulterr"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const healthy = 10_000

func newTestReserve() *reserve.Account {
	return reserve.NewAccount(reserve.Config{
		Floor:     math.Amount("10000"),
		BorrowCap: math.Amount("1000"),
	})
}

func TestOpeningFeeAdvanceIsNetNeutral(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("50000")))

	fee := math.Amount("0.03")
	require.NoError(t, r.AdvanceOpeningFee(fee))
	assert.Equal(t, math.Amount("49999.97"), r.Balance())
	require.NoError(t, r.RepayOpeningFee(fee))

	assert.Equal(t, math.Amount("50000"), r.Balance())
	assert.Equal(t, fee, r.TotalOpeningFeesPaid())
	assert.Equal(t, int64(0), r.Outstanding())
}

func TestAdvanceOpeningFee_EmptyReserve(t *testing.T) {
	r := newTestReserve()
	err := r.AdvanceOpeningFee(1)
	assert.ErrorIs(t, err, vaulterr.ErrInsufficientReserve)
}

func TestRedemptionFeeWaterfall(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("50000")))

	lent := r.BorrowYield(math.Amount("300"))
	require.Equal(t, math.Amount("300"), lent)

	repaid, retained := r.ApplyRedemptionFee(math.Amount("200"))
	assert.Equal(t, math.Amount("200"), repaid)
	assert.Equal(t, int64(0), retained)
	assert.Equal(t, math.Amount("100"), r.BorrowedYield())

	repaid, retained = r.ApplyRedemptionFee(math.Amount("250"))
	assert.Equal(t, math.Amount("100"), repaid)
	assert.Equal(t, math.Amount("150"), retained)
	assert.Equal(t, int64(0), r.BorrowedYield())
	assert.Equal(t, math.Amount("50150"), r.Balance())
	assert.Equal(t, math.Amount("450"), r.TotalRedemptionFees())
}

func TestBorrowYield_RespectsCapAndFloor(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("10500")))

	// Only 500 above the floor.
	assert.Equal(t, math.Amount("500"), r.BorrowYield(math.Amount("800")))
	assert.Equal(t, math.Amount("10000"), r.Balance())
	assert.Equal(t, int64(0), r.BorrowYield(1))

	r2 := newTestReserve()
	require.NoError(t, r2.Fund("alice", math.Amount("50000")))
	assert.Equal(t, math.Amount("1000"), r2.BorrowYield(math.Amount("5000")), "capped")
}

func TestWithdraw_ExactContributionOnly(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("floor-keeper", math.Amount("10000")))
	require.NoError(t, r.Fund("alice", math.Amount("50000")))
	r.ApplyRedemptionFee(math.Amount("700"))

	out, err := r.Withdraw("alice", healthy, 8_000)
	require.NoError(t, err)
	assert.Equal(t, math.Amount("50000"), out, "fee income is not shared out")
	assert.Equal(t, math.Amount("10700"), r.Balance())

	_, err = r.Withdraw("alice", healthy, 8_000)
	assert.ErrorIs(t, err, vaulterr.ErrNoContribution)
}

func TestWithdraw_BlockedByFloor(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("50000")))

	// Fee flow drains the reserve: rebalances pay fees out of it.
	require.NoError(t, r.PayOpeningFee(math.Amount("39000")))
	require.Equal(t, math.Amount("11000"), r.Balance())

	_, err := r.Withdraw("alice", healthy, 8_000)
	require.ErrorIs(t, err, vaulterr.ErrReserveFloor)
	assert.GreaterOrEqual(t, r.Balance(), r.Floor())

	// The floor is also protected against further spending.
	err = r.PayOpeningFee(math.Amount("1000.01"))
	assert.ErrorIs(t, err, vaulterr.ErrInsufficientReserve)
	assert.GreaterOrEqual(t, r.Balance(), r.Floor())
}

func TestWithdraw_BlockedByHealth(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("50000")))
	_, err := r.Withdraw("alice", 7_999, 8_000)
	assert.ErrorIs(t, err, vaulterr.ErrUnhealthy)
	assert.Equal(t, math.Amount("50000"), r.Contribution("alice"))
}

func TestIsLow(t *testing.T) {
	r := newTestReserve()
	require.NoError(t, r.Fund("alice", math.Amount("14999")))
	assert.True(t, r.IsLow())
	require.NoError(t, r.Fund("bob", math.Amount("1")))
	assert.False(t, r.IsLow())
}

func TestComputeCoverage(t *testing.T) {
	covered, remaining := reserve.ComputeCoverage(100, 40)
	assert.Equal(t, int64(40), covered)
	assert.Equal(t, int64(0), remaining)

	covered, remaining = reserve.ComputeCoverage(30, 40)
	assert.Equal(t, int64(30), covered)
	assert.Equal(t, int64(10), remaining)
}
