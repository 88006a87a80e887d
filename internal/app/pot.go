package app

import (
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/state"
)

const maxBps uint32 = 10000

func validatePotParams(p state.PotParams) error {
	if p.MaxMembers < 2 {
		return errInvalidConfig.withDetail("maxMembers must be >= 2, got %d", p.MaxMembers)
	}
	if p.MinContribution == 0 {
		return errInvalidConfig.withDetail("minContribution must be > 0")
	}
	if p.CycleFrequencySecs == 0 {
		return errInvalidConfig.withDetail("cycleFrequencySecs must be > 0")
	}
	if p.BidCeilingBps > maxBps {
		return errInvalidConfig.withDetail("bidCeilingBps must be <= %d, got %d", maxBps, p.BidCeilingBps)
	}
	if p.LatePenaltyBps > maxBps {
		return errInvalidConfig.withDetail("latePenaltyBps must be <= %d, got %d", maxBps, p.LatePenaltyBps)
	}
	return nil
}

func potCreate(st *state.State, msg codec.PotCreateTx, nowUnix int64) (*abci.ExecTxResult, error) {
	if msg.Creator == "" {
		return nil, errBadTxValue.withDetail("missing creator address")
	}
	m := st.Members[msg.Creator]
	if m == nil {
		return nil, errNotRegistered.withDetail("creator %q", msg.Creator)
	}

	params := state.PotParams{
		MaxMembers:         msg.MaxMembers,
		MinContribution:    msg.MinContribution,
		CycleFrequencySecs: msg.CycleFrequencySecs,
		BidCeilingBps:      msg.BidCeilingBps,
		LatePenaltyBps:     msg.LatePenaltyBps,
		MaxCycles:          msg.MaxCycles,
		BidWindowSecs:      msg.BidWindowSecs,
	}
	if err := validatePotParams(params); err != nil {
		return nil, err
	}
	if params.MaxCycles == 0 {
		params.MaxCycles = uint64(params.MaxMembers)
	}
	if params.BidWindowSecs == 0 {
		params.BidWindowSecs = params.CycleFrequencySecs
	}

	p := &state.Pot{
		ID:          st.NextPotID,
		Creator:     msg.Creator,
		Label:       msg.Label,
		Params:      params,
		Status:      state.PotActive,
		Members:     []string{msg.Creator},
		NextCycleID: 1,
		Cycles:      map[uint64]*state.Cycle{},
	}
	st.NextPotID++
	st.Pots[p.ID] = p

	m.CreatedPots, _ = state.AppendPotID(m.CreatedPots, p.ID)
	m.JoinedPots, _ = state.AppendPotID(m.JoinedPots, p.ID)
	m.LastJoinedUnix = nowUnix

	c := openNextCycle(p, nowUnix)

	return okEvent("PotCreated", map[string]string{
		"potId":           strconv.FormatUint(p.ID, 10),
		"creator":         msg.Creator,
		"maxMembers":      strconv.FormatUint(uint64(params.MaxMembers), 10),
		"minContribution": strconv.FormatUint(params.MinContribution, 10),
		"cycleId":         strconv.FormatUint(c.CycleID, 10),
		"fundingDeadline": strconv.FormatInt(c.FundingDeadline, 10),
	}), nil
}

func potJoin(st *state.State, msg codec.PotJoinTx, nowUnix int64) (*abci.ExecTxResult, error) {
	if msg.Member == "" {
		return nil, errBadTxValue.withDetail("missing member address")
	}
	p := st.Pots[msg.PotID]
	if p == nil {
		return nil, errPotNotFound.withDetail("pot %d", msg.PotID)
	}
	m := st.Members[msg.Member]
	if m == nil {
		return nil, errNotRegistered.withDetail("member %q", msg.Member)
	}
	if p.HasMember(msg.Member) {
		return nil, errAlreadyJoined.withDetail("member %q already in pot %d", msg.Member, msg.PotID)
	}
	if p.Status != state.PotActive {
		return nil, errPotClosed.withDetail("pot %d is %s", msg.PotID, p.Status)
	}
	if uint32(len(p.Members)) >= p.Params.MaxMembers {
		return nil, errPotFull.withDetail("pot %d has %d/%d members", msg.PotID, len(p.Members), p.Params.MaxMembers)
	}
	// Joining mid-stream would dilute a pool members already funded, so the
	// roster only grows while the current cycle is still collecting.
	if c := p.CurrentCycle(); c != nil && c.Phase != state.PhaseFunding {
		return nil, errPotClosed.withDetail("pot %d cycle %d is past funding", msg.PotID, c.CycleID)
	}

	p.Members = append(p.Members, msg.Member)
	m.JoinedPots, _ = state.AppendPotID(m.JoinedPots, msg.PotID)
	m.LastJoinedUnix = nowUnix

	return okEvent("PotJoined", map[string]string{
		"potId":   strconv.FormatUint(msg.PotID, 10),
		"member":  msg.Member,
		"members": strconv.Itoa(len(p.Members)),
	}), nil
}

// openNextCycle opens the next funding cycle on the pot. The caller has
// already checked that the pot has cycles left.
func openNextCycle(p *state.Pot, nowUnix int64) *state.Cycle {
	fundingDeadline := nowUnix + int64(p.Params.CycleFrequencySecs)
	c := &state.Cycle{
		CycleID:         p.NextCycleID,
		Phase:           state.PhaseFunding,
		FundingDeadline: fundingDeadline,
		BidDeadline:     fundingDeadline + int64(p.Params.BidWindowSecs),
		NextBidSeq:      1,
		Participants:    map[string]*state.Participation{},
	}
	p.Cycles[c.CycleID] = c
	p.NextCycleID++
	return c
}
