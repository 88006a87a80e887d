package app

import (
	"sort"
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/state"
)

func lookupCycle(st *state.State, potID, cycleID uint64) (*state.Pot, *state.Cycle, error) {
	p := st.Pots[potID]
	if p == nil {
		return nil, nil, errPotNotFound.withDetail("pot %d", potID)
	}
	c := p.Cycles[cycleID]
	if c == nil {
		return nil, nil, errCycleNotFound.withDetail("pot %d cycle %d", potID, cycleID)
	}
	return p, c, nil
}

// cycleCloseFunding is the relay's funding-deadline signal. A signal that
// arrives after the phase already moved on commits as a no-op so retried
// sweeps do not error.
func cycleCloseFunding(st *state.State, msg codec.CycleCloseFundingTx, nowUnix int64) (*abci.ExecTxResult, error) {
	_, c, err := lookupCycle(st, msg.PotID, msg.CycleID)
	if err != nil {
		return nil, err
	}
	if c.Phase != state.PhaseFunding {
		return okEvent("FundingClosed", map[string]string{
			"potId":   strconv.FormatUint(msg.PotID, 10),
			"cycleId": strconv.FormatUint(msg.CycleID, 10),
			"phase":   string(c.Phase),
			"noop":    "true",
		}), nil
	}
	if nowUnix < c.FundingDeadline {
		return nil, errTooEarly.withDetail("funding closes at %d, now %d", c.FundingDeadline, nowUnix)
	}

	c.Phase = state.PhaseBidding

	return okEvent("FundingClosed", map[string]string{
		"potId":   strconv.FormatUint(msg.PotID, 10),
		"cycleId": strconv.FormatUint(msg.CycleID, 10),
		"phase":   string(c.Phase),
	}), nil
}

func cycleResolve(st *state.State, msg codec.CycleResolveTx, nowUnix int64) (*abci.ExecTxResult, error) {
	_, c, err := lookupCycle(st, msg.PotID, msg.CycleID)
	if err != nil {
		return nil, err
	}
	switch c.Phase {
	case state.PhaseResolved, state.PhasePaid:
		return nil, errAlreadyResolved.withDetail("pot %d cycle %d is %s", msg.PotID, msg.CycleID, c.Phase)
	case state.PhaseFunding:
		// The funding-close signal may have been lost; the resolve signal
		// implies it once both deadlines have passed.
		if nowUnix < c.FundingDeadline {
			return nil, errTooEarly.withDetail("funding closes at %d, now %d", c.FundingDeadline, nowUnix)
		}
		c.Phase = state.PhaseBidding
	}
	if nowUnix < c.BidDeadline {
		return nil, errTooEarly.withDetail("bidding closes at %d, now %d", c.BidDeadline, nowUnix)
	}

	winner := pickWinner(c)
	settleCycle(st, c, winner)
	c.Phase = state.PhaseResolved

	attrs := map[string]string{
		"potId":   strconv.FormatUint(msg.PotID, 10),
		"cycleId": strconv.FormatUint(msg.CycleID, 10),
		"pool":    strconv.FormatUint(c.Pool(), 10),
	}
	if winner == "" {
		attrs["winner"] = ""
	} else {
		attrs["winner"] = winner
		attrs["winningBid"] = strconv.FormatUint(c.WinningBid, 10)
	}
	return okEvent("WinnerMarked", attrs), nil
}

// pickWinner selects the highest bid; ties go to the earliest bid sequence,
// then to the lexicographically smallest address. Returns "" when nobody bid.
func pickWinner(c *state.Cycle) string {
	var winner string
	var best *state.Participation
	for _, addr := range sortedParticipants(c) {
		pt := c.Participants[addr]
		if !pt.DidBid {
			continue
		}
		if best == nil ||
			pt.BidAmount > best.BidAmount ||
			(pt.BidAmount == best.BidAmount && pt.BidSeq < best.BidSeq) {
			winner, best = addr, pt
		}
	}
	return winner
}

// settleCycle updates member counters and derives the payout table. The
// winner forfeits its bid; the forfeited amount is split among the other
// contributors pro rata to what they put in.
func settleCycle(st *state.State, c *state.Cycle, winner string) {
	for _, addr := range sortedParticipants(c) {
		pt := c.Participants[addr]
		if pt.Contribution == 0 && !pt.DidBid {
			continue
		}
		if m := st.Members[addr]; m != nil {
			m.TotalCyclesParticipated++
		}
	}

	pool := c.Pool()
	c.Payouts = map[string]uint64{}

	if winner == "" {
		// Zero-bid cycle: everyone takes back exactly what they put in.
		for addr, pt := range c.Participants {
			if pt.Contribution > 0 {
				c.Payouts[addr] = pt.Contribution
			}
		}
		return
	}

	wpt := c.Participants[winner]
	wpt.Won = true
	c.Winner = winner
	c.WinningBid = wpt.BidAmount
	if m := st.Members[winner]; m != nil {
		m.TotalCyclesWon++
		m.ReputationScore += winReputationBonus
	}

	// An underfunded pool can be smaller than the bid; never pay out more
	// than was collected.
	forfeited := wpt.BidAmount
	if forfeited > pool {
		forfeited = pool
	}

	others := make([]string, 0, len(c.Participants))
	var othersTotal uint64
	for _, addr := range sortedParticipants(c) {
		if addr == winner {
			continue
		}
		if pt := c.Participants[addr]; pt.Contribution > 0 {
			others = append(others, addr)
			othersTotal += pt.Contribution
		}
	}

	if othersTotal == 0 {
		// Winner was the only contributor: nothing to redistribute.
		if pool > 0 {
			c.Payouts[winner] = pool
		}
		return
	}

	if pool > forfeited {
		c.Payouts[winner] = pool - forfeited
	}

	var distributed uint64
	for _, addr := range others {
		share := mulDivFloor(forfeited, c.Participants[addr].Contribution, othersTotal)
		if share > 0 {
			c.Payouts[addr] = share
		}
		distributed += share
	}
	// Floor division leaves dust; it goes to the first non-winner so the
	// table always sums to the pool.
	if rem := forfeited - distributed; rem > 0 {
		c.Payouts[others[0]] += rem
	}
}

func sortedParticipants(c *state.Cycle) []string {
	addrs := make([]string, 0, len(c.Participants))
	for addr := range c.Participants {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func cycleConfirmPayout(st *state.State, msg codec.CycleConfirmPayoutTx, nowUnix int64) (*abci.ExecTxResult, error) {
	p, c, err := lookupCycle(st, msg.PotID, msg.CycleID)
	if err != nil {
		return nil, err
	}
	if c.Phase != state.PhaseResolved {
		return nil, errCycleNotResolved.withDetail("pot %d cycle %d is %s", msg.PotID, msg.CycleID, c.Phase)
	}

	c.Phase = state.PhasePaid

	attrs := map[string]string{
		"potId":   strconv.FormatUint(msg.PotID, 10),
		"cycleId": strconv.FormatUint(msg.CycleID, 10),
	}
	if p.NextCycleID > p.Params.MaxCycles {
		p.Status = state.PotCompleted
		attrs["status"] = string(p.Status)
	} else {
		next := openNextCycle(p, nowUnix)
		attrs["nextCycleId"] = strconv.FormatUint(next.CycleID, 10)
		attrs["fundingDeadline"] = strconv.FormatInt(next.FundingDeadline, 10)
	}
	return okEvent("PayoutConfirmed", attrs), nil
}
