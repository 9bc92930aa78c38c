package vault

import (
	"time"
)

// RebalanceState is the hedge rebalance state machine.
type RebalanceState int32

const (
	RebalanceHealthy RebalanceState = iota
	RebalanceNeeded
	RebalanceExecuting
)

func (s RebalanceState) String() string {
	switch s {
	case RebalanceHealthy:
		return "Healthy"
	case RebalanceNeeded:
		return "RebalanceNeeded"
	case RebalanceExecuting:
		return "Executing"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s RebalanceState) CanTransitionTo(next RebalanceState) bool {
	validTransitions := map[RebalanceState][]RebalanceState{
		RebalanceHealthy:   {RebalanceNeeded, RebalanceExecuting},
		RebalanceNeeded:    {RebalanceHealthy, RebalanceExecuting},
		RebalanceExecuting: {RebalanceHealthy},
	}
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

const priceSlots = 24

// PriceSlot is one hourly sample. Hour is unix seconds / 3600, so a slot left
// over from a previous day is never mistaken for the previous hour.
type PriceSlot struct {
	Hour int64 `json:"hour"`
	Rate int64 `json:"rate"`
}

// HarvestState tracks what the lending and hedge venues looked like at the
// last harvest. Every engine-initiated deposit, withdrawal or collateral
// change moves the baselines by the same delta, so only accrued interest and
// margin cost show up as yield.
type HarvestState struct {
	LastHarvest         time.Time `json:"last_harvest"`
	LastAttempt         time.Time `json:"last_attempt"`
	Accumulated         int64     `json:"accumulated"`
	LastLendingBalance  int64     `json:"last_lending_balance"`
	LastHedgeCollateral int64     `json:"last_hedge_collateral"`
	DeficitDays         int32     `json:"deficit_days"`
	LastDeficitDay      int64     `json:"last_deficit_day"`
}

// State is the vault's own bookkeeping. Owned by the Engine and only
// touched with its lock held.
type State struct {
	Cap             int64                 `json:"cap"`
	CapBufferBps    int64                 `json:"cap_buffer_bps"`
	Paused          bool                  `json:"paused"`
	Shutdown        bool                  `json:"shutdown"`
	PendingDeposits int64                 `json:"pending_deposits"`
	LastAction      map[string]time.Time  `json:"last_action"`
	LastGlobal      time.Time             `json:"last_global"`
	UserCooldown    time.Duration         `json:"user_cooldown"`
	GlobalCooldown  time.Duration         `json:"global_cooldown"`
	HoldPeriod      time.Duration         `json:"hold_period"`
	Prices          [priceSlots]PriceSlot `json:"prices"`

	// LendingPrincipal is user backing held by the lending venue. The
	// lending balance also carries the reserve and unharvested interest.
	LendingPrincipal int64           `json:"lending_principal"`
	Split            AllocationSplit `json:"split"`
	Rebalance        RebalanceState  `json:"rebalance"`
	Harvest          HarvestState    `json:"harvest"`
	Recovered        int64           `json:"recovered"`
}

func newState(p Params) State {
	return State{
		Cap:            p.Cap,
		CapBufferBps:   p.CapBufferBps,
		LastAction:     make(map[string]time.Time),
		UserCooldown:   p.UserCooldown,
		GlobalCooldown: p.GlobalCooldown,
		HoldPeriod:     p.HoldPeriod,
		Split:          p.Split,
	}
}

// clone deep-copies the state for checkpoints and snapshots.
func (s State) clone() State {
	c := s
	c.LastAction = make(map[string]time.Time, len(s.LastAction))
	for k, v := range s.LastAction {
		c.LastAction[k] = v
	}
	return c
}

func (s *State) recordPrice(now time.Time, rate int64) {
	hour := now.Unix() / 3600
	s.Prices[hour%priceSlots] = PriceSlot{Hour: hour, Rate: rate}
}

// previousHourRate returns the sample taken one hour before now, if any.
func (s *State) previousHourRate(now time.Time) (int64, bool) {
	hour := now.Unix()/3600 - 1
	slot := s.Prices[((hour%priceSlots)+priceSlots)%priceSlots]
	if slot.Hour != hour || slot.Rate == 0 {
		return 0, false
	}
	return slot.Rate, true
}
