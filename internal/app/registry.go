package app

import (
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/state"
)

// Reputation policy. Scores are unitless: start at the baseline, gain a
// fixed bonus per cycle won, lose a pot-configured basis-point slice per
// missed contribution, floored at zero.
const (
	baselineReputation uint64 = 100
	winReputationBonus uint64 = 10
)

func memberRegister(st *state.State, msg codec.MemberRegisterTx) (*abci.ExecTxResult, error) {
	if msg.Member == "" {
		return nil, errBadTxValue.withDetail("missing member address")
	}
	if _, ok := st.Members[msg.Member]; ok {
		return nil, errAlreadyRegistered.withDetail("member %q", msg.Member)
	}

	st.Members[msg.Member] = &state.Member{
		Addr:            msg.Member,
		Registered:      true,
		ReputationScore: baselineReputation,
	}
	st.MemberIndex = append(st.MemberIndex, msg.Member)

	return okEvent("MemberRegistered", map[string]string{
		"member": msg.Member,
		"index":  strconv.Itoa(len(st.MemberIndex) - 1),
	}), nil
}

// ledgerPenalize records a missed-contribution penalty reported by the
// custody collaborator. It only adjusts reputation; the roster member
// keeps whatever partial contribution it made.
func ledgerPenalize(st *state.State, msg codec.LedgerPenalizeTx) (*abci.ExecTxResult, error) {
	p := st.Pots[msg.PotID]
	if p == nil {
		return nil, errPotNotFound.withDetail("pot %d", msg.PotID)
	}
	c := p.Cycles[msg.CycleID]
	if c == nil {
		return nil, errCycleNotFound.withDetail("pot %d cycle %d", msg.PotID, msg.CycleID)
	}
	if !p.HasMember(msg.Member) {
		return nil, errNotAMember.withDetail("member %q is not in pot %d", msg.Member, msg.PotID)
	}
	// A shortfall only exists once the funding window has closed.
	if c.Phase == state.PhaseFunding {
		return nil, errCycleNotAccepting.withDetail("pot %d cycle %d funding still open", msg.PotID, msg.CycleID)
	}
	m := st.Members[msg.Member]
	if m == nil {
		return nil, errNotRegistered.withDetail("member %q", msg.Member)
	}

	penalty := mulBpsCeil(m.ReputationScore, p.Params.LatePenaltyBps)
	m.ReputationScore -= penalty

	return okEvent("MemberPenalized", map[string]string{
		"member":          msg.Member,
		"potId":           strconv.FormatUint(msg.PotID, 10),
		"cycleId":         strconv.FormatUint(msg.CycleID, 10),
		"penalty":         strconv.FormatUint(penalty, 10),
		"reputationScore": strconv.FormatUint(m.ReputationScore, 10),
	}), nil
}

// winRateBps reports wins per participation in basis points. Members with
// no completed cycles rate at zero rather than erroring.
func winRateBps(m *state.Member) uint64 {
	if m.TotalCyclesParticipated == 0 {
		return 0
	}
	return mulDivFloor(m.TotalCyclesWon, 10000, m.TotalCyclesParticipated)
}
