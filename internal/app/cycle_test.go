package app

import (
	"bytes"
	"testing"

	"potchain/internal/codec"
	"potchain/internal/state"
)

func TestCloseFunding_TooEarlyThenCloses(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)

	res := h.deliver(testSigner, "cycle/close_funding", codec.CycleCloseFundingTx{PotID: potID, CycleID: 1}, height, 1059)
	mustReject(t, res, codeStateConflict, "TooEarly")

	h.mustOk(h.deliver(testSigner, "cycle/close_funding", codec.CycleCloseFundingTx{PotID: potID, CycleID: 1}, height, 1060))
	if got := h.a.st.Pots[potID].Cycles[1].Phase; got != state.PhaseBidding {
		t.Fatalf("expected bidding, got %q", got)
	}
}

func TestCloseFunding_DuplicateSignalIsNoop(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	res := h.mustOk(h.deliver(testSigner, "cycle/close_funding", codec.CycleCloseFundingTx{PotID: potID, CycleID: 1}, height, 1070))
	ev := findEvent(res.Events, "FundingClosed")
	if attr(ev, "noop") != "true" {
		t.Fatalf("expected noop close, got %v", ev)
	}
	if got := h.a.st.Pots[potID].Cycles[1].Phase; got != state.PhaseBidding {
		t.Fatalf("noop close must not change phase, got %q", got)
	}
}

func TestResolve_TooEarlyBeforeBidDeadline(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "alice", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1020))

	res := h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1119)
	mustReject(t, res, codeStateConflict, "TooEarly")
	if got := h.a.st.Pots[potID].Cycles[1].Phase; got != state.PhaseBidding {
		t.Fatalf("early resolve must not advance phase, got %q", got)
	}
}

func TestResolve_HighestBidWinsAndPayoutsSplitProRata(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "bob", PotID: potID, CycleID: 1, BidAmount: 120}, height, 1020))
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "alice", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1021))

	res := h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))
	ev := findEvent(res.Events, "WinnerMarked")
	if got := attr(ev, "winner"); got != "alice" {
		t.Fatalf("expected winner=alice, got %q", got)
	}
	if got := parseU64(t, attr(ev, "winningBid")); got != 150 {
		t.Fatalf("expected winningBid=150, got %d", got)
	}

	c := h.a.st.Pots[potID].Cycles[1]
	if c.Phase != state.PhaseResolved || c.Winner != "alice" || !c.Participants["alice"].Won {
		t.Fatalf("resolution state mismatch: %+v", c)
	}
	// Pool 300: alice keeps 150, the forfeited 150 splits evenly over the
	// other two equal contributions.
	if c.Payouts["alice"] != 150 || c.Payouts["bob"] != 75 || c.Payouts["carol"] != 75 {
		t.Fatalf("payout mismatch: %v", c.Payouts)
	}
	var total uint64
	for _, v := range c.Payouts {
		total += v
	}
	if total != c.Pool() {
		t.Fatalf("payouts must sum to pool: got %d want %d", total, c.Pool())
	}

	var wonCount int
	for addr, pt := range c.Participants {
		if pt.Won {
			wonCount++
			if addr != c.Winner {
				t.Fatalf("won flag on non-winner %s", addr)
			}
		}
	}
	if wonCount != 1 {
		t.Fatalf("expected exactly one won participation, got %d", wonCount)
	}

	alice := h.a.st.Members["alice"]
	if alice.TotalCyclesWon != 1 || alice.TotalCyclesParticipated != 1 {
		t.Fatalf("winner counters mismatch: %+v", alice)
	}
	if alice.ReputationScore != baselineReputation+winReputationBonus {
		t.Fatalf("expected winner reputation bonus, got %d", alice.ReputationScore)
	}
	bob := h.a.st.Members["bob"]
	if bob.TotalCyclesWon != 0 || bob.TotalCyclesParticipated != 1 {
		t.Fatalf("loser counters mismatch: %+v", bob)
	}
}

func TestResolve_TieGoesToEarlierBid(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "carol", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1020))
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "bob", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1021))

	res := h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))
	if got := attr(findEvent(res.Events, "WinnerMarked"), "winner"); got != "carol" {
		t.Fatalf("expected first bidder to win the tie, got %q", got)
	}
}

func TestResolve_ReplacedBidLosesTiePriority(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "carol", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1020))
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "bob", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1021))
	// Carol re-submits the same amount and drops behind bob in sequence.
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "carol", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1022))

	res := h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))
	if got := attr(findEvent(res.Events, "WinnerMarked"), "winner"); got != "bob" {
		t.Fatalf("expected bob after carol re-bid, got %q", got)
	}
}

func TestResolve_ZeroBidsRefundsContributions(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	res := h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))
	ev := findEvent(res.Events, "WinnerMarked")
	if got := attr(ev, "winner"); got != "" {
		t.Fatalf("expected no winner, got %q", got)
	}

	c := h.a.st.Pots[potID].Cycles[1]
	if c.Winner != "" || c.WinningBid != 0 {
		t.Fatalf("expected no winner recorded: %+v", c)
	}
	for _, addr := range []string{"alice", "bob", "carol"} {
		if c.Payouts[addr] != 100 {
			t.Fatalf("expected %s refunded 100, got %d", addr, c.Payouts[addr])
		}
		m := h.a.st.Members[addr]
		if m.TotalCyclesParticipated != 1 || m.TotalCyclesWon != 0 {
			t.Fatalf("%s counters mismatch: %+v", addr, m)
		}
	}
}

func TestResolve_RemainderGoesToFirstNonWinner(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "alice", PotID: potID, CycleID: 1, BidAmount: 101}, height, 1020))
	h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))

	c := h.a.st.Pots[potID].Cycles[1]
	// 101 over two equal contributors floors to 50 each; the dust lands on
	// the lexicographically first.
	if c.Payouts["alice"] != 199 || c.Payouts["bob"] != 51 || c.Payouts["carol"] != 50 {
		t.Fatalf("payout mismatch: %v", c.Payouts)
	}
}

func TestResolve_DuplicateRejectedAndStateUntouched(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)
	h.mustOk(h.deliver(testSigner, "ledger/bid", codec.LedgerBidTx{Member: "alice", PotID: potID, CycleID: 1, BidAmount: 150}, height, 1020))
	h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))

	before := h.a.st.AppHash()
	res := h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1121)
	mustReject(t, res, codeStateConflict, "AlreadyResolved")
	if !bytes.Equal(before, h.a.st.AppHash()) {
		t.Fatalf("rejected resolve must leave state untouched")
	}

	if got := h.a.st.Members["alice"].TotalCyclesWon; got != 1 {
		t.Fatalf("double resolve must not double-count wins, got %d", got)
	}
}

func TestResolve_ImpliesLostFundingCloseSignal(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	// Partial funding, both deadlines elapse with no close signal.
	h.mustOk(h.deliver(testSigner, "ledger/contribute", codec.LedgerContributeTx{Member: "alice", PotID: potID, CycleID: 1, Amount: 80}, height, 1010))

	h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))

	c := h.a.st.Pots[potID].Cycles[1]
	if c.Phase != state.PhaseResolved {
		t.Fatalf("expected resolved, got %q", c.Phase)
	}
	if c.Payouts["alice"] != 80 {
		t.Fatalf("expected alice refunded 80, got %v", c.Payouts)
	}
}

func TestConfirmPayout_OpensNextCycle(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)
	h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))

	// Confirm before resolution is rejected for cycle 2 later; here cycle 1
	// is resolved and moves to paid.
	res := h.mustOk(h.deliver(testSigner, "cycle/confirm_payout", codec.CycleConfirmPayoutTx{PotID: potID, CycleID: 1}, height, 1130))
	ev := findEvent(res.Events, "PayoutConfirmed")
	if got := parseU64(t, attr(ev, "nextCycleId")); got != 2 {
		t.Fatalf("expected nextCycleId=2, got %d", got)
	}

	p := h.a.st.Pots[potID]
	if p.Cycles[1].Phase != state.PhasePaid {
		t.Fatalf("expected cycle 1 paid, got %q", p.Cycles[1].Phase)
	}
	c2 := p.Cycles[2]
	if c2 == nil || c2.Phase != state.PhaseFunding {
		t.Fatalf("expected cycle 2 funding")
	}
	if c2.FundingDeadline != 1190 || c2.BidDeadline != 1250 {
		t.Fatalf("cycle 2 deadlines mismatch: funding=%d bid=%d", c2.FundingDeadline, c2.BidDeadline)
	}
}

func TestConfirmPayout_BeforeResolutionRejected(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)

	res := h.deliver(testSigner, "cycle/confirm_payout", codec.CycleConfirmPayoutTx{PotID: potID, CycleID: 1}, height, 1070)
	mustReject(t, res, codeStateConflict, "CycleNotResolved")
}

func TestConfirmPayout_DuplicateRejected(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)
	fundAll(t, h, potID, 1010)
	h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: 1}, height, 1120))
	h.mustOk(h.deliver(testSigner, "cycle/confirm_payout", codec.CycleConfirmPayoutTx{PotID: potID, CycleID: 1}, height, 1130))

	res := h.deliver(testSigner, "cycle/confirm_payout", codec.CycleConfirmPayoutTx{PotID: potID, CycleID: 1}, height, 1131)
	mustReject(t, res, codeStateConflict, "CycleNotResolved")
}

func TestPotLifecycle_CompletesAfterMaxCycles(t *testing.T) {
	const height = int64(3)
	h, potID := setupPot(t)

	now := int64(1000)
	for cycle := uint64(1); cycle <= 3; cycle++ {
		for _, addr := range []string{"alice", "bob", "carol"} {
			h.mustOk(h.deliver(testSigner, "ledger/contribute", codec.LedgerContributeTx{
				Member: addr, PotID: potID, CycleID: cycle, Amount: 100,
			}, height, now+10))
		}
		c := h.a.st.Pots[potID].Cycles[cycle]
		h.mustOk(h.deliver(testSigner, "cycle/resolve", codec.CycleResolveTx{PotID: potID, CycleID: cycle}, height, c.BidDeadline))
		res := h.mustOk(h.deliver(testSigner, "cycle/confirm_payout", codec.CycleConfirmPayoutTx{PotID: potID, CycleID: cycle}, height, c.BidDeadline+10))
		now = c.BidDeadline + 10

		if cycle == 3 {
			if got := attr(findEvent(res.Events, "PayoutConfirmed"), "status"); got != string(state.PotCompleted) {
				t.Fatalf("expected completion status, got %q", got)
			}
		}
	}

	p := h.a.st.Pots[potID]
	if p.Status != state.PotCompleted {
		t.Fatalf("expected completed pot, got %q", p.Status)
	}
	if len(p.Cycles) != 3 {
		t.Fatalf("expected exactly 3 cycles, got %d", len(p.Cycles))
	}

	for _, addr := range []string{"alice", "bob", "carol"} {
		m := h.a.st.Members[addr]
		if m.TotalCyclesWon > m.TotalCyclesParticipated {
			t.Fatalf("%s: wins exceed participations: %+v", addr, m)
		}
		if m.TotalCyclesParticipated != 3 {
			t.Fatalf("%s: expected 3 participations, got %d", addr, m.TotalCyclesParticipated)
		}
	}
}
