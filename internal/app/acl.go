package app

import (
	"crypto/ed25519"
	"strconv"

	abci "github.com/cometbft/cometbft/abci/types"

	"potchain/internal/codec"
	"potchain/internal/state"
)

func aclAddCaller(st *state.State, msg codec.ACLAddCallerTx, height int64) (*abci.ExecTxResult, error) {
	if msg.Caller == "" {
		return nil, errBadTxValue.withDetail("missing caller id")
	}
	if len(msg.PubKey) != ed25519.PublicKeySize {
		return nil, errBadTxValue.withDetail("invalid pubKey length: got %d want %d", len(msg.PubKey), ed25519.PublicKeySize)
	}
	if msg.Caller == st.Admin {
		return nil, errBadTxValue.withDetail("admin is implicitly authorized")
	}

	// Re-adding an existing caller rotates its key.
	st.Callers[msg.Caller] = &state.Caller{
		ID:          msg.Caller,
		PubKey:      append([]byte(nil), msg.PubKey...),
		AddedHeight: height,
	}
	return okEvent("AuthorizedCallerAdded", map[string]string{
		"caller": msg.Caller,
		"height": strconv.FormatInt(height, 10),
	}), nil
}

func aclRemoveCaller(st *state.State, msg codec.ACLRemoveCallerTx) (*abci.ExecTxResult, error) {
	if msg.Caller == "" {
		return nil, errBadTxValue.withDetail("missing caller id")
	}
	if msg.Caller == st.Admin {
		return nil, errBadTxValue.withDetail("cannot remove the admin")
	}
	if _, ok := st.Callers[msg.Caller]; !ok {
		return nil, errNotRegistered.withDetail("caller %q is not on the allow-list", msg.Caller)
	}
	delete(st.Callers, msg.Caller)
	return okEvent("AuthorizedCallerRemoved", map[string]string{
		"caller": msg.Caller,
	}), nil
}
