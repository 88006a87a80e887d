package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/recorder"
	"potchain/internal/state"
)

const (
	AppVersion uint64 = 1
)

// Options carries construction-time configuration. The admin identity is
// passed explicitly here rather than living as ambient global state.
type Options struct {
	Admin          state.Caller
	GenesisCallers []state.Caller
	Recorder       recorder.Recorder
}

type PotApp struct {
	*abci.BaseApplication

	home string
	rec  recorder.Recorder

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string, opts Options) (*PotApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	if opts.Admin.ID == "" {
		return nil, fmt.Errorf("missing admin identity")
	}
	if st.Admin == "" {
		// Fresh state: seed the access controller.
		st.Admin = opts.Admin.ID
		st.AdminPubKey = append([]byte(nil), opts.Admin.PubKey...)
		for _, c := range opts.GenesisCallers {
			st.Callers[c.ID] = &state.Caller{ID: c.ID, PubKey: append([]byte(nil), c.PubKey...)}
		}
	} else if st.Admin != opts.Admin.ID {
		return nil, fmt.Errorf("admin mismatch: state has %q, config has %q", st.Admin, opts.Admin.ID)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	a := &PotApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		rec:             rec,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *PotApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "potchain (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *PotApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: codeValidation, Log: err.Error()}, nil
	}
	// Structural validation only; auth runs at delivery against current state.
	return &abci.CheckTxResponse{Code: codeOK}, nil
}

func (a *PotApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	// Access-control genesis is seeded in New from explicit Options.
	return &abci.InitChainResponse{}, nil
}

func (a *PotApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	// Publish committed events to the notification log. Failures are
	// logged only: a downstream observer must never roll back a committed
	// ledger mutation.
	for _, res := range txResults {
		if res.Code != codeOK {
			continue
		}
		for _, ev := range res.Events {
			if err := a.rec.Record(notificationFromEvent(req.Height, nowUnix, ev)); err != nil {
				log.Printf("[ERROR] record notification %s: %v", ev.Type, err)
			}
		}
	}

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *PotApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so the node
		// halts loudly instead of diverging from disk.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

// deliverTx stages the mutation on a deep clone and installs the clone
// only on success, so every rejection leaves state exactly as it was.
func (a *PotApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return errResult(errBadTxValue.withDetail("%v", err))
	}

	stage, err := a.st.Clone()
	if err != nil {
		return errResult(err)
	}
	res, err := applyTx(stage, env, height, nowUnix)
	if err != nil {
		return errResult(err)
	}
	a.st = stage
	return res
}

func applyTx(st *state.State, env codec.TxEnvelope, height int64, nowUnix int64) (*abci.ExecTxResult, error) {
	// All mutating entry points are gated; acl/* is admin-only.
	switch env.Type {
	case "acl/add_caller", "acl/remove_caller":
		if err := requireAdmin(st, env); err != nil {
			return nil, err
		}
	default:
		if err := requireAuthorizedCaller(st, env); err != nil {
			return nil, err
		}
	}
	if err := consumeNonce(st, env); err != nil {
		return nil, err
	}

	switch env.Type {
	case "acl/add_caller":
		var msg codec.ACLAddCallerTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad acl/add_caller value")
		}
		return aclAddCaller(st, msg, height)

	case "acl/remove_caller":
		var msg codec.ACLRemoveCallerTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad acl/remove_caller value")
		}
		return aclRemoveCaller(st, msg)

	case "member/register":
		var msg codec.MemberRegisterTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad member/register value")
		}
		return memberRegister(st, msg)

	case "pot/create":
		var msg codec.PotCreateTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad pot/create value")
		}
		return potCreate(st, msg, nowUnix)

	case "pot/join":
		var msg codec.PotJoinTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad pot/join value")
		}
		return potJoin(st, msg, nowUnix)

	case "ledger/contribute":
		var msg codec.LedgerContributeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad ledger/contribute value")
		}
		return ledgerContribute(st, msg)

	case "ledger/bid":
		var msg codec.LedgerBidTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad ledger/bid value")
		}
		return ledgerBid(st, msg)

	case "ledger/penalize":
		var msg codec.LedgerPenalizeTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad ledger/penalize value")
		}
		return ledgerPenalize(st, msg)

	case "cycle/close_funding":
		var msg codec.CycleCloseFundingTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad cycle/close_funding value")
		}
		return cycleCloseFunding(st, msg, nowUnix)

	case "cycle/resolve":
		var msg codec.CycleResolveTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad cycle/resolve value")
		}
		return cycleResolve(st, msg, nowUnix)

	case "cycle/confirm_payout":
		var msg codec.CycleConfirmPayoutTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return nil, errBadTxValue.withDetail("bad cycle/confirm_payout value")
		}
		return cycleConfirmPayout(st, msg, nowUnix)

	default:
		return nil, errBadTxValue.withDetail("unknown tx type: %s", env.Type)
	}
}

func (a *PotApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.st

	// Paths:
	// - /members
	// - /member/<addr>
	// - /member/<addr>/winrate
	// - /member/<addr>/reputation
	// - /member/<addr>/pot/<id>/cycles
	// - /member_at/<index>
	// - /pots
	// - /pot/<id>
	// - /pot/<id>/cycle/<cid>
	// - /pot/<id>/cycle/<cid>/participation/<addr>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/members":
		b, _ := json.Marshal(map[string]any{
			"total":   len(st.MemberIndex),
			"members": st.MemberIndex,
		})
		return queryOK(st, b), nil

	case strings.HasPrefix(path, "/member_at/"):
		raw := strings.TrimPrefix(path, "/member_at/")
		idx, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || idx >= uint64(len(st.MemberIndex)) {
			return queryErr(st, "member index out of range"), nil
		}
		b, _ := json.Marshal(map[string]any{"index": idx, "member": st.MemberIndex[idx]})
		return queryOK(st, b), nil

	case strings.HasPrefix(path, "/member/"):
		return a.queryMember(strings.TrimPrefix(path, "/member/")), nil

	case path == "/pots":
		ids := make([]uint64, 0, len(st.Pots))
		for id := range st.Pots {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return queryOK(st, b), nil

	case strings.HasPrefix(path, "/pot/"):
		return a.queryPot(strings.TrimPrefix(path, "/pot/")), nil

	default:
		return queryErr(st, "unknown query path"), nil
	}
}

func (a *PotApp) queryMember(rest string) *abci.QueryResponse {
	st := a.st
	parts := strings.Split(rest, "/")
	addr := parts[0]
	m := st.Members[addr]

	switch {
	case len(parts) == 1:
		if m == nil {
			return queryErr(st, "member not found")
		}
		b, _ := json.Marshal(m)
		return queryOK(st, b)

	case len(parts) == 2 && parts[1] == "winrate":
		// Defined as 0 for unknown members and for members with zero
		// participations: enumeration callers probe freely.
		var bps uint64
		if m != nil {
			bps = winRateBps(m)
		}
		b, _ := json.Marshal(map[string]any{"member": addr, "winRateBps": bps})
		return queryOK(st, b)

	case len(parts) == 2 && parts[1] == "reputation":
		var score uint64
		if m != nil {
			score = m.ReputationScore
		}
		b, _ := json.Marshal(map[string]any{"member": addr, "reputationScore": score})
		return queryOK(st, b)

	case len(parts) == 4 && parts[1] == "pot" && parts[3] == "cycles":
		potID, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return queryErr(st, "invalid pot id")
		}
		p := st.Pots[potID]
		if p == nil {
			return queryErr(st, "pot not found")
		}
		ids := make([]uint64, 0, len(p.Cycles))
		for cid, c := range p.Cycles {
			if _, ok := c.Participants[addr]; ok {
				ids = append(ids, cid)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return queryOK(st, b)

	default:
		return queryErr(st, "unknown query path")
	}
}

func (a *PotApp) queryPot(rest string) *abci.QueryResponse {
	st := a.st
	parts := strings.Split(rest, "/")
	potID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return queryErr(st, "invalid pot id")
	}
	p := st.Pots[potID]
	if p == nil {
		return queryErr(st, "pot not found")
	}

	switch {
	case len(parts) == 1:
		b, _ := json.Marshal(p)
		return queryOK(st, b)

	case len(parts) >= 3 && parts[1] == "cycle":
		cycleID, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return queryErr(st, "invalid cycle id")
		}
		c := p.Cycles[cycleID]
		if c == nil {
			return queryErr(st, "cycle not found")
		}
		if len(parts) == 3 {
			b, _ := json.Marshal(c)
			return queryOK(st, b)
		}
		if len(parts) == 5 && parts[3] == "participation" {
			pt := c.Participants[parts[4]]
			if pt == nil {
				return queryErr(st, "participation not found")
			}
			b, _ := json.Marshal(pt)
			return queryOK(st, b)
		}
		return queryErr(st, "unknown query path")

	default:
		return queryErr(st, "unknown query path")
	}
}

func queryOK(st *state.State, value []byte) *abci.QueryResponse {
	return &abci.QueryResponse{Code: codeOK, Value: value, Height: st.Height}
}

func queryErr(st *state.State, logMsg string) *abci.QueryResponse {
	return &abci.QueryResponse{Code: codeNotFound, Log: logMsg, Height: st.Height}
}

func notificationFromEvent(height int64, nowUnix int64, ev abci.Event) *recorder.Notification {
	attrs := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		attrs[a.Key] = a.Value
	}
	return &recorder.Notification{
		Height:   height,
		TimeUnix: nowUnix,
		Type:     ev.Type,
		Attrs:    attrs,
	}
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return &abci.ExecTxResult{
		Code:   codeOK,
		Events: []abci.Event{ev},
	}
}
