package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type State struct {
	Height int64 `json:"height"`

	// Access control. Admin is fixed at genesis and is the only identity
	// allowed to mutate the allow-list.
	Admin       string             `json:"admin,omitempty"`
	AdminPubKey []byte             `json:"adminPubKey,omitempty"` // 32-byte ed25519 pubkey
	Callers     map[string]*Caller `json:"callers,omitempty"`     // authorized caller id -> record
	NonceMax    map[string]uint64  `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce

	NextPotID   uint64             `json:"nextPotId"`
	Members     map[string]*Member `json:"members"`
	MemberIndex []string           `json:"memberIndex,omitempty"` // registration order, for enumeration
	Pots        map[uint64]*Pot    `json:"pots"`
}

func NewState() *State {
	return &State{
		Height:    0,
		NextPotID: 1,
		Callers:   map[string]*Caller{},
		NonceMax:  map[string]uint64{},
		Members:   map[string]*Member{},
		Pots:      map[uint64]*Pot{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	normalize(&st)
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state used for staged tx execution: a
// mutating tx runs against the clone and the clone is installed only if
// the tx succeeds.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	normalize(&out)
	return &out, nil
}

func normalize(st *State) {
	if st.Callers == nil {
		st.Callers = map[string]*Caller{}
	}
	if st.NonceMax == nil {
		st.NonceMax = map[string]uint64{}
	}
	if st.Members == nil {
		st.Members = map[string]*Member{}
	}
	if st.Pots == nil {
		st.Pots = map[uint64]*Pot{}
	}
	if st.NextPotID == 0 {
		st.NextPotID = 1
	}
	for _, p := range st.Pots {
		if p.Cycles == nil {
			p.Cycles = map[uint64]*Cycle{}
		}
		for _, c := range p.Cycles {
			if c.Participants == nil {
				c.Participants = map[string]*Participation{}
			}
		}
	}
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: encoding/json does NOT guarantee map key
	// order, so maps are normalized into key-sorted slices first.
	type callerKV struct {
		ID     string  `json:"id"`
		Caller *Caller `json:"caller"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type memberKV struct {
		Addr   string  `json:"addr"`
		Member *Member `json:"member"`
	}
	type participationKV struct {
		Member        string         `json:"member"`
		Participation *Participation `json:"participation"`
	}
	type payoutKV struct {
		Member string `json:"member"`
		Amount uint64 `json:"amount"`
	}
	type cycleKV struct {
		ID           uint64            `json:"id"`
		Cycle        *Cycle            `json:"cycle"`
		Participants []participationKV `json:"participants"`
		Payouts      []payoutKV        `json:"payouts,omitempty"`
	}
	type potKV struct {
		ID     uint64    `json:"id"`
		Pot    *Pot      `json:"pot"`
		Cycles []cycleKV `json:"cycles"`
	}

	callers := make([]callerKV, 0, len(s.Callers))
	for k, v := range s.Callers {
		callers = append(callers, callerKV{ID: k, Caller: v})
	}
	sort.Slice(callers, func(i, j int) bool { return callers[i].ID < callers[j].ID })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	members := make([]memberKV, 0, len(s.Members))
	for k, v := range s.Members {
		members = append(members, memberKV{Addr: k, Member: v})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Addr < members[j].Addr })

	pots := make([]potKV, 0, len(s.Pots))
	for id, p := range s.Pots {
		cycles := make([]cycleKV, 0, len(p.Cycles))
		for cid, c := range p.Cycles {
			parts := make([]participationKV, 0, len(c.Participants))
			for addr, pt := range c.Participants {
				parts = append(parts, participationKV{Member: addr, Participation: pt})
			}
			sort.Slice(parts, func(i, j int) bool { return parts[i].Member < parts[j].Member })

			payouts := make([]payoutKV, 0, len(c.Payouts))
			for addr, amt := range c.Payouts {
				payouts = append(payouts, payoutKV{Member: addr, Amount: amt})
			}
			sort.Slice(payouts, func(i, j int) bool { return payouts[i].Member < payouts[j].Member })

			cycles = append(cycles, cycleKV{ID: cid, Cycle: c, Participants: parts, Payouts: payouts})
		}
		sort.Slice(cycles, func(i, j int) bool { return cycles[i].ID < cycles[j].ID })
		pots = append(pots, potKV{ID: id, Pot: p, Cycles: cycles})
	}
	sort.Slice(pots, func(i, j int) bool { return pots[i].ID < pots[j].ID })

	normalized := struct {
		Height      int64      `json:"height"`
		Admin       string     `json:"admin,omitempty"`
		AdminPubKey []byte     `json:"adminPubKey,omitempty"`
		Callers     []callerKV `json:"callers,omitempty"`
		NonceMax    []nonceKV  `json:"nonceMax,omitempty"`
		NextPotID   uint64     `json:"nextPotId"`
		Members     []memberKV `json:"members"`
		MemberIndex []string   `json:"memberIndex,omitempty"`
		Pots        []potKV    `json:"pots"`
	}{
		Height:      s.Height,
		Admin:       s.Admin,
		AdminPubKey: s.AdminPubKey,
		Callers:     callers,
		NonceMax:    nonces,
		NextPotID:   s.NextPotID,
		Members:     members,
		MemberIndex: s.MemberIndex,
		Pots:        pots,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Access control ----

type Caller struct {
	ID          string `json:"id"`
	PubKey      []byte `json:"pubKey"` // 32-byte ed25519 pubkey (base64 in JSON)
	AddedHeight int64  `json:"addedHeight,omitempty"`
}

// ---- Member registry ----

type Member struct {
	Addr       string `json:"addr"`
	Registered bool   `json:"registered"`

	TotalCyclesParticipated uint64 `json:"totalCyclesParticipated"`
	TotalCyclesWon          uint64 `json:"totalCyclesWon"`
	TotalContribution       uint64 `json:"totalContribution"`
	ReputationScore         uint64 `json:"reputationScore"`
	LastJoinedUnix          int64  `json:"lastJoinedTimestamp,omitempty"`

	// Insertion-ordered, deduplicated pot id sets.
	CreatedPots []uint64 `json:"createdPots,omitempty"`
	JoinedPots  []uint64 `json:"joinedPots,omitempty"`
}

// AppendPotID appends id to the ordered set if absent and reports whether
// it was added. Iteration order is insertion order.
func AppendPotID(set []uint64, id uint64) ([]uint64, bool) {
	for _, v := range set {
		if v == id {
			return set, false
		}
	}
	return append(set, id), true
}

// ---- Pot registry ----

type PotStatus string

const (
	PotActive    PotStatus = "active"
	PotCompleted PotStatus = "completed"
)

type PotParams struct {
	MaxMembers         uint32 `json:"maxMembers"`
	MinContribution    uint64 `json:"minContribution"`
	CycleFrequencySecs uint64 `json:"cycleFrequencySecs"`
	BidCeilingBps      uint32 `json:"bidCeilingBps"`
	LatePenaltyBps     uint32 `json:"latePenaltyBps,omitempty"`

	// MaxCycles defaults to MaxMembers (one payout round per roster slot).
	// BidWindowSecs defaults to CycleFrequencySecs.
	MaxCycles     uint64 `json:"maxCycles,omitempty"`
	BidWindowSecs uint64 `json:"bidWindowSecs,omitempty"`
}

type Pot struct {
	ID      uint64    `json:"id"`
	Creator string    `json:"creator"`
	Label   string    `json:"label,omitempty"`
	Params  PotParams `json:"params"`
	Status  PotStatus `json:"status"`

	// Roster in join order; the creator is seated first.
	Members []string `json:"members"`

	NextCycleID uint64            `json:"nextCycleId"`
	Cycles      map[uint64]*Cycle `json:"cycles"`
}

func (p *Pot) HasMember(addr string) bool {
	for _, m := range p.Members {
		if m == addr {
			return true
		}
	}
	return false
}

// CurrentCycle returns the most recently opened cycle, or nil if the pot
// has completed all cycles.
func (p *Pot) CurrentCycle() *Cycle {
	if p.NextCycleID <= 1 {
		return nil
	}
	return p.Cycles[p.NextCycleID-1]
}

// ---- Cycle ledger ----

type CyclePhase string

const (
	PhaseFunding  CyclePhase = "funding"
	PhaseBidding  CyclePhase = "bidding"
	PhaseResolved CyclePhase = "resolved"
	PhasePaid     CyclePhase = "paid"
)

type Cycle struct {
	CycleID uint64     `json:"cycleId"`
	Phase   CyclePhase `json:"phase"`

	// Unix seconds. BidDeadline >= FundingDeadline.
	FundingDeadline int64 `json:"fundingDeadline"`
	BidDeadline     int64 `json:"bidDeadline"`

	// Winner is set at most once, at resolution. "" means no winner
	// (zero-bid cycle or not yet resolved).
	Winner     string `json:"winner,omitempty"`
	WinningBid uint64 `json:"winningBid,omitempty"`

	// NextBidSeq orders bid submissions within the cycle; block time is
	// too coarse to break ties between bids landing in one block.
	NextBidSeq uint64 `json:"nextBidSeq,omitempty"`

	Participants map[string]*Participation `json:"participants"`

	// Payouts is derived at resolution: the full pool split per member,
	// for the custody collaborator to disburse.
	Payouts map[string]uint64 `json:"payouts,omitempty"`
}

type Participation struct {
	Contribution uint64 `json:"contribution"`
	BidAmount    uint64 `json:"bidAmount"`
	DidBid       bool   `json:"didBid"`
	BidSeq       uint64 `json:"bidSeq,omitempty"`
	Won          bool   `json:"won"`
}

// Participant returns the participation record for addr, creating it on
// first contribution or first bid.
func (c *Cycle) Participant(addr string) *Participation {
	p, ok := c.Participants[addr]
	if !ok {
		p = &Participation{}
		c.Participants[addr] = p
	}
	return p
}

// Pool is the sum of all contributions recorded for the cycle.
func (c *Cycle) Pool() uint64 {
	var total uint64
	for _, p := range c.Participants {
		total += p.Contribution
	}
	return total
}
