package codec

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// TxEnvelope is the v1 transaction container.
//
// CometBFT transactions are opaque bytes; the ledger uses JSON-encoded txs
// so the custody collaborator and the relay daemon can build them without
// codegen. This is NOT a final wire protocol.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Tx auth:
	// - Nonce: included in the signed message for replay protection (must increase per signer).
	// - Signer: caller identity (must be on the allow-list, or the admin for acl/*).
	// - Sig: Ed25519 signature over SignBytes(type, value, nonce, signer).
	Nonce  string `json:"nonce"`
	Signer string `json:"signer"`
	Sig    []byte `json:"sig"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

const txAuthDomainV1 = "potchain/tx/v1"

// SignBytes builds the ed25519 message for a tx envelope:
// DOMAIN || 0x00 || type || 0x00 || nonce || 0x00 || signer || 0x00 || sha256(value)
func SignBytes(typ string, value []byte, nonce string, signer string) []byte {
	sum := sha256.Sum256(value)
	out := make([]byte, 0, len(txAuthDomainV1)+1+len(typ)+1+len(nonce)+1+len(signer)+1+sha256.Size)
	out = append(out, []byte(txAuthDomainV1)...)
	out = append(out, 0)
	out = append(out, []byte(typ)...)
	out = append(out, 0)
	out = append(out, []byte(nonce)...)
	out = append(out, 0)
	out = append(out, []byte(signer)...)
	out = append(out, 0)
	out = append(out, sum[:]...)
	return out
}

// SignedTx marshals a signed envelope ready for broadcast.
func SignedTx(typ string, value any, nonce string, signer string, priv ed25519.PrivateKey) ([]byte, error) {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode tx value: %w", err)
	}
	env := TxEnvelope{
		Type:   typ,
		Value:  valueBytes,
		Nonce:  nonce,
		Signer: signer,
		Sig:    ed25519.Sign(priv, SignBytes(typ, valueBytes, nonce, signer)),
	}
	return json.Marshal(env)
}

// ---- Access control ----

type ACLAddCallerTx struct {
	Caller string `json:"caller"`
	PubKey []byte `json:"pubKey"` // base64 (32 bytes)
}

type ACLRemoveCallerTx struct {
	Caller string `json:"caller"`
}

// ---- Member registry ----

type MemberRegisterTx struct {
	Member string `json:"member"`
}

// ---- Pot registry ----

type PotCreateTx struct {
	Creator            string `json:"creator"`
	MaxMembers         uint32 `json:"maxMembers"`
	MinContribution    uint64 `json:"minContribution"`
	CycleFrequencySecs uint64 `json:"cycleFrequencySecs"`
	BidCeilingBps      uint32 `json:"bidCeilingBps"`
	LatePenaltyBps     uint32 `json:"latePenaltyBps,omitempty"`
	MaxCycles          uint64 `json:"maxCycles,omitempty"`     // default maxMembers
	BidWindowSecs      uint64 `json:"bidWindowSecs,omitempty"` // default cycleFrequencySecs
	Label              string `json:"label,omitempty"`
}

type PotJoinTx struct {
	Member string `json:"member"`
	PotID  uint64 `json:"potId"`
}

// ---- Cycle ledger ----

type LedgerContributeTx struct {
	Member  string `json:"member"`
	PotID   uint64 `json:"potId"`
	CycleID uint64 `json:"cycleId"`
	Amount  uint64 `json:"amount"`
}

type LedgerBidTx struct {
	Member    string `json:"member"`
	PotID     uint64 `json:"potId"`
	CycleID   uint64 `json:"cycleId"`
	BidAmount uint64 `json:"bidAmount"`
}

// LedgerPenalizeTx is the custody collaborator's missed-contribution signal.
type LedgerPenalizeTx struct {
	Member  string `json:"member"`
	PotID   uint64 `json:"potId"`
	CycleID uint64 `json:"cycleId"`
}

// ---- Deadline signals / settlement ----

type CycleCloseFundingTx struct {
	PotID   uint64 `json:"potId"`
	CycleID uint64 `json:"cycleId"`
}

type CycleResolveTx struct {
	PotID   uint64 `json:"potId"`
	CycleID uint64 `json:"cycleId"`
}

type CycleConfirmPayoutTx struct {
	PotID   uint64 `json:"potId"`
	CycleID uint64 `json:"cycleId"`
}
