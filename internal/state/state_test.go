package state

import (
	"bytes"
	"testing"
)

func populated() *State {
	st := NewState()
	st.Height = 7
	st.Admin = "admin"
	st.Callers["custody"] = &Caller{ID: "custody", PubKey: bytes.Repeat([]byte{1}, 32)}
	st.NonceMax["custody"] = 3

	st.Members["alice"] = &Member{Addr: "alice", Registered: true, ReputationScore: 100, CreatedPots: []uint64{1}, JoinedPots: []uint64{1}}
	st.Members["bob"] = &Member{Addr: "bob", Registered: true, ReputationScore: 110, TotalCyclesWon: 1, TotalCyclesParticipated: 2, JoinedPots: []uint64{1}}
	st.MemberIndex = []string{"alice", "bob"}

	st.NextPotID = 2
	st.Pots[1] = &Pot{
		ID:      1,
		Creator: "alice",
		Params:  PotParams{MaxMembers: 2, MinContribution: 100, CycleFrequencySecs: 60, BidCeilingBps: 5000, MaxCycles: 2, BidWindowSecs: 60},
		Status:  PotActive,
		Members: []string{"alice", "bob"},

		NextCycleID: 2,
		Cycles: map[uint64]*Cycle{
			1: {
				CycleID:         1,
				Phase:           PhaseResolved,
				FundingDeadline: 1060,
				BidDeadline:     1120,
				Winner:          "bob",
				WinningBid:      90,
				NextBidSeq:      2,
				Participants: map[string]*Participation{
					"alice": {Contribution: 100},
					"bob":   {Contribution: 100, BidAmount: 90, DidBid: true, BidSeq: 1, Won: true},
				},
				Payouts: map[string]uint64{"alice": 90, "bob": 110},
			},
		},
	}
	return st
}

func TestAppHash_StableAcrossClones(t *testing.T) {
	st := populated()
	h1 := st.AppHash()

	for i := 0; i < 10; i++ {
		clone, err := st.Clone()
		if err != nil {
			t.Fatalf("clone: %v", err)
		}
		if !bytes.Equal(h1, clone.AppHash()) {
			t.Fatalf("hash diverged on clone %d", i)
		}
	}
}

func TestAppHash_ChangesWithState(t *testing.T) {
	st := populated()
	h1 := st.AppHash()

	st.Pots[1].Cycles[1].Participants["alice"].Contribution++
	if bytes.Equal(h1, st.AppHash()) {
		t.Fatalf("hash must change when a contribution changes")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	home := t.TempDir()
	st := populated()
	if err := st.Save(home); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(home)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(st.AppHash(), loaded.AppHash()) {
		t.Fatalf("hash mismatch after reload")
	}
	if loaded.Pots[1].Cycles[1].Winner != "bob" {
		t.Fatalf("cycle winner lost in round trip")
	}
}

func TestLoad_MissingFileReturnsFreshState(t *testing.T) {
	st, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if st.Height != 0 || st.NextPotID != 1 {
		t.Fatalf("unexpected fresh state: %+v", st)
	}
	if st.Members == nil || st.Pots == nil || st.Callers == nil || st.NonceMax == nil {
		t.Fatalf("fresh state maps must be initialized")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	st := populated()
	clone, err := st.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}

	clone.Members["carol"] = &Member{Addr: "carol", Registered: true}
	clone.Pots[1].Cycles[1].Participants["alice"].Contribution = 999

	if st.Members["carol"] != nil {
		t.Fatalf("clone mutation leaked into original members")
	}
	if st.Pots[1].Cycles[1].Participants["alice"].Contribution != 100 {
		t.Fatalf("clone mutation leaked into original participations")
	}
}

func TestAppendPotID_OrderedSetSemantics(t *testing.T) {
	var set []uint64
	var added bool

	set, added = AppendPotID(set, 3)
	if !added || len(set) != 1 {
		t.Fatalf("first append: added=%v set=%v", added, set)
	}
	set, added = AppendPotID(set, 1)
	if !added {
		t.Fatalf("second append should add")
	}
	set, added = AppendPotID(set, 3)
	if added || len(set) != 2 {
		t.Fatalf("duplicate append: added=%v set=%v", added, set)
	}
	if set[0] != 3 || set[1] != 1 {
		t.Fatalf("insertion order must be preserved: %v", set)
	}
}

func TestPot_CurrentCycle(t *testing.T) {
	p := &Pot{NextCycleID: 1, Cycles: map[uint64]*Cycle{}}
	if p.CurrentCycle() != nil {
		t.Fatalf("no cycles opened yet")
	}
	p.Cycles[1] = &Cycle{CycleID: 1, Phase: PhaseFunding, Participants: map[string]*Participation{}}
	p.NextCycleID = 2
	if c := p.CurrentCycle(); c == nil || c.CycleID != 1 {
		t.Fatalf("expected cycle 1")
	}
}

func TestCycle_PoolAndParticipant(t *testing.T) {
	c := &Cycle{Participants: map[string]*Participation{}}
	c.Participant("alice").Contribution = 40
	c.Participant("alice").Contribution += 60
	c.Participant("bob").Contribution = 25
	if c.Pool() != 125 {
		t.Fatalf("expected pool=125, got %d", c.Pool())
	}
	if len(c.Participants) != 2 {
		t.Fatalf("participant create-on-first-touch broken: %v", c.Participants)
	}
}
