package server

import (
	"SynthVault/internal/governance"
	"SynthVault/internal/vault"
	"SynthVault/internal/vaulterr"
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "synthvault.v1.VaultService"

// VaultServer is the vault API. Service implements it over an Engine.
type VaultServer interface {
	Mint(context.Context, *MintRequest) (*MintResponse, error)
	QuoteMint(context.Context, *QuoteMintRequest) (*QuoteMintResponse, error)
	Redeem(context.Context, *RedeemRequest) (*RedeemResponse, error)
	Harvest(context.Context, *Empty) (*HarvestResponse, error)
	Rebalance(context.Context, *RebalanceRequest) (*RebalanceResponse, error)
	FundReserve(context.Context, *AmountRequest) (*AmountResponse, error)
	WithdrawReserve(context.Context, *Empty) (*AmountResponse, error)
	Propose(context.Context, *ProposeRequest) (*ProposalResponse, error)
	Cancel(context.Context, *KindRequest) (*Empty, error)
	Execute(context.Context, *KindRequest) (*ProposalResponse, error)
	ListProposals(context.Context, *Empty) (*ListProposalsResponse, error)
	Pause(context.Context, *Empty) (*Empty, error)
	Unpause(context.Context, *Empty) (*Empty, error)
	SetCap(context.Context, *SetCapRequest) (*Empty, error)
	SetCooldowns(context.Context, *SetCooldownsRequest) (*Empty, error)
	SetHoldPeriod(context.Context, *SetHoldPeriodRequest) (*Empty, error)
	EmergencyShutdown(context.Context, *ShutdownRequest) (*AmountResponse, error)
	GetState(context.Context, *Empty) (*StateResponse, error)
	GetBacking(context.Context, *Empty) (*BackingResponse, error)
}

// route binds one method to its gRPC descriptor and HTTP mapping.
type route struct {
	desc     grpc.MethodDesc
	verb     string
	path     string
	mutating bool
}

var routes = []route{
	{unary("Mint", VaultServer.Mint), "POST", "/v1/mint", true},
	{unary("QuoteMint", VaultServer.QuoteMint), "POST", "/v1/mint/quote", false},
	{unary("Redeem", VaultServer.Redeem), "POST", "/v1/redeem", true},
	{unary("Harvest", VaultServer.Harvest), "POST", "/v1/harvest", true},
	{unary("Rebalance", VaultServer.Rebalance), "POST", "/v1/rebalance", true},
	{unary("FundReserve", VaultServer.FundReserve), "POST", "/v1/reserve/fund", true},
	{unary("WithdrawReserve", VaultServer.WithdrawReserve), "POST", "/v1/reserve/withdraw", true},
	{unary("Propose", VaultServer.Propose), "POST", "/v1/proposals", true},
	{unary("Cancel", VaultServer.Cancel), "POST", "/v1/proposals/{kind}/cancel", true},
	{unary("Execute", VaultServer.Execute), "POST", "/v1/proposals/{kind}/execute", true},
	{unary("ListProposals", VaultServer.ListProposals), "GET", "/v1/proposals", false},
	{unary("Pause", VaultServer.Pause), "POST", "/v1/admin/pause", true},
	{unary("Unpause", VaultServer.Unpause), "POST", "/v1/admin/unpause", true},
	{unary("SetCap", VaultServer.SetCap), "POST", "/v1/admin/cap", true},
	{unary("SetCooldowns", VaultServer.SetCooldowns), "POST", "/v1/admin/cooldowns", true},
	{unary("SetHoldPeriod", VaultServer.SetHoldPeriod), "POST", "/v1/admin/hold-period", true},
	{unary("EmergencyShutdown", VaultServer.EmergencyShutdown), "POST", "/v1/admin/shutdown", true},
	{unary("GetState", VaultServer.GetState), "GET", "/v1/state", false},
	{unary("GetBacking", VaultServer.GetBacking), "GET", "/v1/backing", false},
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary builds a method descriptor that decodes Req and calls fn, running
// the server's interceptor chain when one is installed.
func unary[Req, Resp any](name string, fn func(VaultServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(VaultServer), ctx, req.(*Req))
			})
		},
	}
}

// serviceDesc is registered by hand: the messages are plain structs carried
// by the json codec, so there is no generated code.
func serviceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, len(routes))
	for i, r := range routes {
		methods[i] = r.desc
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*VaultServer)(nil),
		Methods:     methods,
		Metadata:    "synthvault/v1/vault.json",
	}
}

func isMutating(method string) bool {
	for _, r := range routes {
		if fullMethod(r.desc.MethodName) == method {
			return r.mutating
		}
	}
	return false
}

// Service adapts the engine to the wire types.
type Service struct {
	engine *vault.Engine
}

func NewService(engine *vault.Engine) *Service {
	return &Service{engine: engine}
}

var _ VaultServer = (*Service)(nil)

func (s *Service) Mint(ctx context.Context, req *MintRequest) (*MintResponse, error) {
	deposit, err := parseAmount("mint", "deposit", req.Deposit, false)
	if err != nil {
		return nil, err
	}
	minOut, err := parseAmount("mint", "min_output", req.MinOutput, true)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Mint(ctx, actorFrom(ctx), deposit, minOut)
	if err != nil {
		return nil, err
	}
	return mintResponse(res), nil
}

// QuoteMint prices a deposit at the current rate without touching state.
func (s *Service) QuoteMint(ctx context.Context, req *QuoteMintRequest) (*QuoteMintResponse, error) {
	deposit, err := parseAmount("quote_mint", "deposit", req.Deposit, false)
	if err != nil {
		return nil, err
	}
	if deposit == 0 {
		return nil, vaulterr.New("quote_mint", vaulterr.ErrZeroAmount, "deposit must be positive")
	}
	report, err := s.engine.Backing(ctx)
	if err != nil {
		return nil, err
	}
	q := vault.QuoteMint(deposit, report.Rate, s.engine.State().Split, s.engine.Params().OpeningFeeBps)
	return &QuoteMintResponse{
		Rate:       fmtRate(report.Rate),
		Collateral: fmtAmount(q.Collateral),
		Notional:   fmtAmount(q.Notional),
		OpeningFee: fmtAmount(q.OpeningFee),
		Lending:    fmtAmount(q.Lending),
		Expected:   fmtAmount(q.Expected),
	}, nil
}

func (s *Service) Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error) {
	amount, err := parseAmount("redeem", "amount", req.Amount, false)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Redeem(ctx, actorFrom(ctx), amount)
	if err != nil {
		return nil, err
	}
	return redeemResponse(res), nil
}

func (s *Service) Harvest(ctx context.Context, _ *Empty) (*HarvestResponse, error) {
	res, err := s.engine.HarvestYield(ctx, actorFrom(ctx))
	if err != nil {
		return nil, err
	}
	return harvestResponse(res), nil
}

func (s *Service) Rebalance(ctx context.Context, req *RebalanceRequest) (*RebalanceResponse, error) {
	minPost, err := parseAmount("rebalance", "min_post_value", req.MinPostValue, true)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Rebalance(ctx, actorFrom(ctx), minPost, req.Force)
	if err != nil {
		return nil, err
	}
	return rebalanceResponse(res), nil
}

func (s *Service) FundReserve(ctx context.Context, req *AmountRequest) (*AmountResponse, error) {
	amount, err := parseAmount("fund_reserve", "amount", req.Amount, false)
	if err != nil {
		return nil, err
	}
	credited, err := s.engine.FundReserve(ctx, actorFrom(ctx), amount)
	if err != nil {
		return nil, err
	}
	return &AmountResponse{Amount: fmtAmount(credited)}, nil
}

func (s *Service) WithdrawReserve(ctx context.Context, _ *Empty) (*AmountResponse, error) {
	paid, err := s.engine.WithdrawReserveContribution(ctx, actorFrom(ctx))
	if err != nil {
		return nil, err
	}
	return &AmountResponse{Amount: fmtAmount(paid)}, nil
}

func (s *Service) Propose(ctx context.Context, req *ProposeRequest) (*ProposalResponse, error) {
	kind, err := governance.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	value := vault.ParameterValue{
		Allocation:  vault.AllocationSplit{LendingBps: req.LendingBps, HedgeBps: req.HedgeBps},
		LeverageBps: req.LeverageBps,
		HedgeVenue:  req.HedgeVenue,
	}
	view, err := s.engine.ProposeParameterChange(ctx, actorFrom(ctx), kind, value)
	if err != nil {
		return nil, err
	}
	resp := proposalResponse(view)
	return &resp, nil
}

func (s *Service) Cancel(ctx context.Context, req *KindRequest) (*Empty, error) {
	kind, err := governance.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if err := s.engine.CancelProposal(ctx, actorFrom(ctx), kind); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) Execute(ctx context.Context, req *KindRequest) (*ProposalResponse, error) {
	kind, err := governance.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	view, err := s.engine.ExecuteProposal(ctx, actorFrom(ctx), kind)
	if err != nil {
		return nil, err
	}
	resp := proposalResponse(view)
	return &resp, nil
}

func (s *Service) ListProposals(ctx context.Context, _ *Empty) (*ListProposalsResponse, error) {
	views := s.engine.Proposals()
	out := &ListProposalsResponse{Proposals: make([]ProposalResponse, 0, len(views))}
	for _, v := range views {
		out.Proposals = append(out.Proposals, proposalResponse(v))
	}
	return out, nil
}

func (s *Service) Pause(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Pause(ctx, actorFrom(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) Unpause(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.engine.Unpause(ctx, actorFrom(ctx)); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) SetCap(ctx context.Context, req *SetCapRequest) (*Empty, error) {
	limit, err := parseAmount("set_cap", "cap", req.Cap, false)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetCap(ctx, actorFrom(ctx), limit, req.BufferBps); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) SetCooldowns(ctx context.Context, req *SetCooldownsRequest) (*Empty, error) {
	user, err := parseDuration("set_cooldowns", "user", req.User)
	if err != nil {
		return nil, err
	}
	global, err := parseDuration("set_cooldowns", "global", req.Global)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetCooldowns(ctx, actorFrom(ctx), user, global); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) SetHoldPeriod(ctx context.Context, req *SetHoldPeriodRequest) (*Empty, error) {
	hold, err := parseDuration("set_hold_period", "hold_period", req.HoldPeriod)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetHoldPeriod(ctx, actorFrom(ctx), hold); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Service) EmergencyShutdown(ctx context.Context, req *ShutdownRequest) (*AmountResponse, error) {
	recovered, err := s.engine.EmergencyShutdown(ctx, actorFrom(ctx), req.Reason)
	if err != nil {
		return nil, err
	}
	return &AmountResponse{Amount: fmtAmount(recovered)}, nil
}

func (s *Service) GetState(ctx context.Context, _ *Empty) (*StateResponse, error) {
	return stateResponse(s.engine.State()), nil
}

func (s *Service) GetBacking(ctx context.Context, _ *Empty) (*BackingResponse, error) {
	report, err := s.engine.Backing(ctx)
	if err != nil {
		return nil, err
	}
	return backingResponse(report), nil
}
