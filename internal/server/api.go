package server

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/math"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"time"
)

// Wire types. Amounts and rates travel as decimal strings so no client
// rounds through float64; basis points stay integers.

type Empty struct{}

type MintRequest struct {
	Deposit   string `json:"deposit"`
	MinOutput string `json:"min_output,omitempty"`
}

type MintResponse struct {
	Issued          string `json:"issued"`
	Rate            string `json:"rate"`
	OpeningFee      string `json:"opening_fee"`
	HedgeCollateral string `json:"hedge_collateral"`
	HedgeNotional   string `json:"hedge_notional"`
	LendingDeposit  string `json:"lending_deposit"`
}

type QuoteMintRequest struct {
	Deposit string `json:"deposit"`
}

type QuoteMintResponse struct {
	Rate       string `json:"rate"`
	Collateral string `json:"collateral"`
	Notional   string `json:"notional"`
	OpeningFee string `json:"opening_fee"`
	Lending    string `json:"lending"`
	Expected   string `json:"expected"`
}

type RedeemRequest struct {
	Amount string `json:"amount"`
}

type RedeemResponse struct {
	Burned      string `json:"burned"`
	Rate        string `json:"rate"`
	FromLending string `json:"from_lending"`
	FromHedge   string `json:"from_hedge"`
	Gross       string `json:"gross"`
	Fee         string `json:"fee"`
	RepaidYield string `json:"repaid_yield"`
	Net         string `json:"net"`
}

type HarvestResponse struct {
	LendingGain string `json:"lending_gain"`
	MarginCost  string `json:"margin_cost"`
	Net         string `json:"net"`
	ToppedUp    string `json:"topped_up"`
	Borrowed    string `json:"borrowed"`
	Donated     string `json:"donated"`
	WrapperFee  string `json:"wrapper_fee"`
	Accumulated bool   `json:"accumulated"`
	Deficit     bool   `json:"deficit"`
	DeficitDays int32  `json:"deficit_days"`
}

type RebalanceRequest struct {
	MinPostValue string `json:"min_post_value,omitempty"`
	Force        bool   `json:"force,omitempty"`
}

type RebalanceResponse struct {
	Forced        bool   `json:"forced"`
	HealthBefore  int64  `json:"health_before_bps"`
	HealthAfter   int64  `json:"health_after_bps"`
	Realized      string `json:"realized"`
	NewCollateral string `json:"new_collateral"`
	NewNotional   string `json:"new_notional"`
	OpeningFee    string `json:"opening_fee"`
	LendingDelta  string `json:"lending_delta"`
	PostValue     string `json:"post_value"`
}

type AmountRequest struct {
	Amount string `json:"amount"`
}

type AmountResponse struct {
	Amount string `json:"amount"`
}

type ProposeRequest struct {
	Kind        string `json:"kind"`
	LendingBps  int64  `json:"lending_bps,omitempty"`
	HedgeBps    int64  `json:"hedge_bps,omitempty"`
	LeverageBps int64  `json:"leverage_bps,omitempty"`
	HedgeVenue  string `json:"hedge_venue,omitempty"`
}

type KindRequest struct {
	Kind string `json:"kind"`
}

type ProposalResponse struct {
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	LendingBps  int64     `json:"lending_bps,omitempty"`
	HedgeBps    int64     `json:"hedge_bps,omitempty"`
	LeverageBps int64     `json:"leverage_bps,omitempty"`
	HedgeVenue  string    `json:"hedge_venue,omitempty"`
	ETA         time.Time `json:"eta"`
	ProposedAt  time.Time `json:"proposed_at"`
}

type ListProposalsResponse struct {
	Proposals []ProposalResponse `json:"proposals"`
}

type SetCapRequest struct {
	Cap       string `json:"cap"`
	BufferBps int64  `json:"buffer_bps"`
}

// Durations use Go syntax: "90s", "12h".
type SetCooldownsRequest struct {
	User   string `json:"user"`
	Global string `json:"global"`
}

type SetHoldPeriodRequest struct {
	HoldPeriod string `json:"hold_period"`
}

type ShutdownRequest struct {
	Reason string `json:"reason"`
}

type StateResponse struct {
	Sequence         int64  `json:"sequence"`
	Paused           bool   `json:"paused"`
	Shutdown         bool   `json:"shutdown"`
	Cap              string `json:"cap"`
	CapBufferBps     int64  `json:"cap_buffer_bps"`
	PendingDeposits  string `json:"pending_deposits"`
	LendingPrincipal string `json:"lending_principal"`
	LendingBps       int64  `json:"lending_bps"`
	HedgeBps         int64  `json:"hedge_bps"`
	LeverageBps      int64  `json:"leverage_bps"`
	HedgeVenue       string `json:"hedge_venue"`
	HedgeNotional    string `json:"hedge_notional"`
	HedgeCollateral  string `json:"hedge_collateral"`
	HedgeStatus      string `json:"hedge_status"`
	Rebalance        string `json:"rebalance"`
	ReserveBalance   string `json:"reserve_balance"`
	ReserveFloor     string `json:"reserve_floor"`
	BorrowedYield    string `json:"borrowed_yield"`
	Accumulated      string `json:"accumulated_yield"`
	DeficitDays      int32  `json:"deficit_days"`
	HoldPeriod       string `json:"hold_period"`
	UserCooldown     string `json:"user_cooldown"`
	GlobalCooldown   string `json:"global_cooldown"`
}

type BackingResponse struct {
	LendingAssets string `json:"lending_assets"`
	HedgeValue    string `json:"hedge_value"`
	Supply        string `json:"supply"`
	Rate          string `json:"rate"`
	SupplyValue   string `json:"supply_value"`
	RatioBps      int64  `json:"ratio_bps"`
	Covered       bool   `json:"covered"`
}

// --- conversions ---

func fmtAmount(v int64) string { return math.FormatScaled(v, math.AmountConfig) }
func fmtRate(v int64) string { return math.FormatScaled(v, math.RateConfig) }

// parseAmount reads a decimal amount field. Empty means zero only when
// optional is set.
func parseAmount(op, field, s string, optional bool) (int64, error) {
	if s == "" {
		if optional {
			return 0, nil
		}
		return 0, vaulterr.New(op, vaulterr.ErrInvalidParameter, "%s is required", field)
	}
	v, err := math.ParseScaled(s, math.AmountConfig)
	if err != nil {
		return 0, vaulterr.New(op, vaulterr.ErrInvalidParameter, "%s: %v", field, err)
	}
	if v < 0 {
		return 0, vaulterr.New(op, vaulterr.ErrInvalidParameter, "%s must not be negative", field)
	}
	return v, nil
}

func parseDuration(op, field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, vaulterr.New(op, vaulterr.ErrInvalidParameter, "%s: %v", field, err)
	}
	return d, nil
}

func mintResponse(r vault.MintResult) *MintResponse {
	return &MintResponse{
		Issued:          fmtAmount(r.Issued),
		Rate:            fmtRate(r.Rate),
		OpeningFee:      fmtAmount(r.OpeningFee),
		HedgeCollateral: fmtAmount(r.HedgeCollateral),
		HedgeNotional:   fmtAmount(r.HedgeNotional),
		LendingDeposit:  fmtAmount(r.LendingDeposit),
	}
}

func redeemResponse(r vault.RedeemResult) *RedeemResponse {
	return &RedeemResponse{
		Burned:      fmtAmount(r.Burned),
		Rate:        fmtRate(r.Rate),
		FromLending: fmtAmount(r.FromLending),
		FromHedge:   fmtAmount(r.FromHedge),
		Gross:       fmtAmount(r.Gross),
		Fee:         fmtAmount(r.Fee),
		RepaidYield: fmtAmount(r.RepaidYield),
		Net:         fmtAmount(r.Net),
	}
}

func harvestResponse(r vault.HarvestResult) *HarvestResponse {
	return &HarvestResponse{
		LendingGain: fmtAmount(r.LendingGain),
		MarginCost:  fmtAmount(r.MarginCost),
		Net:         fmtAmount(r.Net),
		ToppedUp:    fmtAmount(r.ToppedUp),
		Borrowed:    fmtAmount(r.Borrowed),
		Donated:     fmtAmount(r.Donated),
		WrapperFee:  fmtAmount(r.WrapperFee),
		Accumulated: r.Accumulated,
		Deficit:     r.Deficit,
		DeficitDays: r.DeficitDays,
	}
}

func rebalanceResponse(r vault.RebalanceResult) *RebalanceResponse {
	return &RebalanceResponse{
		Forced:        r.Forced,
		HealthBefore:  r.HealthBefore,
		HealthAfter:   r.HealthAfter,
		Realized:      fmtAmount(r.Realized),
		NewCollateral: fmtAmount(r.NewCollateral),
		NewNotional:   fmtAmount(r.NewNotional),
		OpeningFee:    fmtAmount(r.OpeningFee),
		LendingDelta:  fmtAmount(r.LendingDelta),
		PostValue:     fmtAmount(r.PostValue),
	}
}

func proposalResponse(v vault.ProposalView) ProposalResponse {
	resp := ProposalResponse{
		Kind:       string(v.Kind),
		State:      v.State.String(),
		ETA:        v.ETA,
		ProposedAt: v.ProposedAt,
	}
	switch v.Kind {
	case governance.KindAllocation:
		resp.LendingBps = v.Value.Allocation.LendingBps
		resp.HedgeBps = v.Value.Allocation.HedgeBps
	case governance.KindLeverage:
		resp.LeverageBps = v.Value.LeverageBps
	case governance.KindHedgeVenue:
		resp.HedgeVenue = v.Value.HedgeVenue
	}
	return resp
}

func stateResponse(v vault.StateView) *StateResponse {
	return &StateResponse{
		Sequence:         v.Sequence,
		Paused:           v.Paused,
		Shutdown:         v.Shutdown,
		Cap:              fmtAmount(v.Cap),
		CapBufferBps:     v.CapBufferBps,
		PendingDeposits:  fmtAmount(v.PendingDeposits),
		LendingPrincipal: fmtAmount(v.LendingPrincipal),
		LendingBps:       v.Split.LendingBps,
		HedgeBps:         v.Split.HedgeBps,
		LeverageBps:      v.Split.LeverageBps,
		HedgeVenue:       v.HedgeVenue,
		HedgeNotional:    fmtAmount(v.HedgeNotional),
		HedgeCollateral:  fmtAmount(v.HedgeCollateral),
		HedgeStatus:      v.HedgeStatus.String(),
		Rebalance:        v.RebalanceStateName,
		ReserveBalance:   fmtAmount(v.ReserveBalance),
		ReserveFloor:     fmtAmount(v.ReserveFloor),
		BorrowedYield:    fmtAmount(v.BorrowedYield),
		Accumulated:      fmtAmount(v.Harvest.Accumulated),
		DeficitDays:      v.Harvest.DeficitDays,
		HoldPeriod:       v.HoldPeriod.String(),
		UserCooldown:     v.UserCooldown.String(),
		GlobalCooldown:   v.GlobalCooldown.String(),
	}
}

func backingResponse(r vault.BackingReport) *BackingResponse {
	return &BackingResponse{
		LendingAssets: fmtAmount(r.LendingAssets),
		HedgeValue:    fmtAmount(r.HedgeValue),
		Supply:        fmtAmount(r.Supply),
		Rate:          fmtRate(r.Rate),
		SupplyValue:   fmtAmount(r.SupplyValue),
		RatioBps:      r.RatioBps,
		Covered:       r.Covered(),
	}
}
