package app

import (
	"math/bits"
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/state"
)

func ledgerContribute(st *state.State, msg codec.LedgerContributeTx) (*abci.ExecTxResult, error) {
	if msg.Amount == 0 {
		return nil, errBadTxValue.withDetail("contribution amount must be > 0")
	}
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
	if c.Phase != state.PhaseFunding {
		return nil, errCycleNotAccepting.withDetail("pot %d cycle %d is %s", msg.PotID, msg.CycleID, c.Phase)
	}
	m := st.Members[msg.Member]
	if m == nil {
		return nil, errNotRegistered.withDetail("member %q", msg.Member)
	}

	// Contributions are additive: top-ups within the window accumulate.
	pt := c.Participant(msg.Member)
	newContribution, err := addU64Checked(pt.Contribution, msg.Amount, "contribution")
	if err != nil {
		return nil, errBadTxValue.withDetail("%v", err)
	}
	newTotal, err := addU64Checked(m.TotalContribution, msg.Amount, "totalContribution")
	if err != nil {
		return nil, errBadTxValue.withDetail("%v", err)
	}
	pt.Contribution = newContribution
	m.TotalContribution = newTotal

	// Funding closes early once every roster member has met the minimum;
	// no reason to make a funded roster wait out the clock.
	if allFunded(p, c) {
		c.Phase = state.PhaseBidding
	}

	return okEvent("ParticipationUpdated", map[string]string{
		"potId":        strconv.FormatUint(msg.PotID, 10),
		"cycleId":      strconv.FormatUint(msg.CycleID, 10),
		"member":       msg.Member,
		"contribution": strconv.FormatUint(pt.Contribution, 10),
		"pool":         strconv.FormatUint(c.Pool(), 10),
		"phase":        string(c.Phase),
	}), nil
}

func allFunded(p *state.Pot, c *state.Cycle) bool {
	for _, addr := range p.Members {
		pt := c.Participants[addr]
		if pt == nil || pt.Contribution < p.Params.MinContribution {
			return false
		}
	}
	return true
}

func ledgerBid(st *state.State, msg codec.LedgerBidTx) (*abci.ExecTxResult, error) {
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
	if c.Phase != state.PhaseBidding {
		return nil, errCycleNotBidding.withDetail("pot %d cycle %d is %s", msg.PotID, msg.CycleID, c.Phase)
	}

	// The ceiling is a bps slice of the fully-funded pool, so it does not
	// move as late contributions trickle in.
	ceiling := bidCeiling(p)
	if msg.BidAmount > ceiling {
		return nil, errBidExceedsCeiling.withDetail("bid %d exceeds ceiling %d", msg.BidAmount, ceiling)
	}

	// Latest bid replaces; each replacement takes a fresh sequence number
	// so a re-submitted amount loses first-bid tie priority.
	pt := c.Participant(msg.Member)
	pt.BidAmount = msg.BidAmount
	pt.DidBid = true
	pt.BidSeq = c.NextBidSeq
	c.NextBidSeq++

	return okEvent("BidUpdated", map[string]string{
		"potId":     strconv.FormatUint(msg.PotID, 10),
		"cycleId":   strconv.FormatUint(msg.CycleID, 10),
		"member":    msg.Member,
		"bidAmount": strconv.FormatUint(msg.BidAmount, 10),
		"bidSeq":    strconv.FormatUint(pt.BidSeq, 10),
	}), nil
}

func bidCeiling(p *state.Pot) uint64 {
	hi, lo := bits.Mul64(p.Params.MinContribution, uint64(len(p.Members)))
	if hi != 0 {
		// Pool base overflows uint64; cap the ceiling rather than wrap.
		return mulBpsFloor(^uint64(0), p.Params.BidCeilingBps)
	}
	return mulBpsFloor(lo, p.Params.BidCeilingBps)
}
