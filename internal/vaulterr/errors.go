// Package vaulterr defines the error taxonomy shared by the vault packages.
//
// Every failure carries a Kind and, usually, a Code. errors.Is matches a
// category sentinel (ErrSafety) or a specific one (ErrLossBreaker):
//
//	if errors.Is(err, vaulterr.ErrSafety) { ... }
//	if errors.Is(err, vaulterr.ErrLossBreaker) { ... }
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by when it can occur and how callers react.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation: bad input, rejected before any state change.
	KindValidation
	// KindState: the vault is not in a state that allows the call.
	KindState
	// KindSafety: a protective limit was hit; the whole operation is undone.
	KindSafety
	// KindExternal: a collaborator misbehaved or returned too little.
	KindExternal
	// KindAuth: the caller lacks the owner capability.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindSafety:
		return "safety"
	case KindExternal:
		return "external"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a typed, attributable vault failure.
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code when the target has one, otherwise on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == e.Kind
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

// Category sentinels.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrState      = &Error{Kind: KindState}
	ErrSafety     = &Error{Kind: KindSafety}
	ErrExternal   = &Error{Kind: KindExternal}
	ErrAuth       = &Error{Kind: KindAuth}
)

// Validation.
var (
	ErrZeroAmount       = &Error{Kind: KindValidation, Code: "zero_amount"}
	ErrBelowMinimum     = &Error{Kind: KindValidation, Code: "below_minimum"}
	ErrInvalidParameter = &Error{Kind: KindValidation, Code: "invalid_parameter"}
	ErrDeadlineExpired  = &Error{Kind: KindValidation, Code: "deadline_expired"}
	ErrOverLeveraged    = &Error{Kind: KindValidation, Code: "over_leveraged"}
	ErrNotionalCap      = &Error{Kind: KindValidation, Code: "notional_cap"}
	ErrNoContribution   = &Error{Kind: KindValidation, Code: "no_contribution"}
)

// State.
var (
	ErrPaused             = &Error{Kind: KindState, Code: "paused"}
	ErrMarketClosed       = &Error{Kind: KindState, Code: "market_closed"}
	ErrRateLimited        = &Error{Kind: KindState, Code: "rate_limited"}
	ErrHoldPeriod         = &Error{Kind: KindState, Code: "hold_period"}
	ErrNoPendingProposal  = &Error{Kind: KindState, Code: "no_pending_proposal"}
	ErrProposalPending    = &Error{Kind: KindState, Code: "proposal_pending"}
	ErrProposalCooldown   = &Error{Kind: KindState, Code: "proposal_cooldown"}
	ErrTimelockActive     = &Error{Kind: KindState, Code: "timelock_active"}
	ErrRebalanceNotNeeded = &Error{Kind: KindState, Code: "rebalance_not_needed"}
	ErrPositionOpen       = &Error{Kind: KindState, Code: "position_open"}
	ErrReentrantCall      = &Error{Kind: KindState, Code: "reentrant_call"}
	ErrHarvestTooSoon     = &Error{Kind: KindState, Code: "harvest_too_soon"}
)

// Safety.
var (
	ErrCapExceeded         = &Error{Kind: KindSafety, Code: "cap_exceeded"}
	ErrPriceBreaker        = &Error{Kind: KindSafety, Code: "price_move_too_large"}
	ErrLossBreaker         = &Error{Kind: KindSafety, Code: "hedge_loss_too_large"}
	ErrInsufficientReserve = &Error{Kind: KindSafety, Code: "insufficient_reserve"}
	ErrReserveFloor        = &Error{Kind: KindSafety, Code: "reserve_floor"}
	ErrSlippage            = &Error{Kind: KindSafety, Code: "slippage"}
	ErrNearLiquidation     = &Error{Kind: KindSafety, Code: "near_liquidation"}
	ErrUnsafeClosure       = &Error{Kind: KindSafety, Code: "unsafe_before_closure"}
	ErrUnhealthy           = &Error{Kind: KindSafety, Code: "unhealthy_position"}
	ErrImplausibleRate     = &Error{Kind: KindSafety, Code: "implausible_rate"}
)

// External.
var (
	ErrInsufficientReturn = &Error{Kind: KindExternal, Code: "insufficient_return"}
	ErrUnverified         = &Error{Kind: KindExternal, Code: "unverified_position"}
	ErrOracle             = &Error{Kind: KindExternal, Code: "oracle"}
	ErrVenue              = &Error{Kind: KindExternal, Code: "venue"}
)

// Unauthorized is returned when an owner-only call is made by anyone else.
var ErrUnauthorized = &Error{Kind: KindAuth, Code: "unauthorized"}

// New returns a failure of the sentinel's kind and code, attributed to op.
func New(op string, sentinel *Error, format string, args ...interface{}) error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attributes a collaborator error to op. Errors that already carry a
// vault kind keep it; anything else becomes the sentinel's kind and code.
func Wrap(op string, sentinel *Error, err error) error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return err
	}
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of err, or "internal".
func CodeOf(err error) string {
	var ve *Error
	if errors.As(err, &ve) && ve.Code != "" {
		return ve.Code
	}
	return "internal"
}
