package app

import (
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"
)

// ABCI result code classes. The class tells the caller whether a retry can
// help: validation errors are retryable with corrected input, state
// conflicts require re-reading cycle state, authorization failures must
// not be retried blindly.
const (
	codeOK            uint32 = 0
	codeValidation    uint32 = 1
	codeStateConflict uint32 = 2
	codeUnauthorized  uint32 = 3
	codeNotFound      uint32 = 4
	codeInternal      uint32 = 5
)

const errCodespace = "potchain"

// ledgerErr is a rejection with a stable reason token. Reasons are part of
// the API surface: callers switch on them.
type ledgerErr struct {
	code   uint32
	reason string
	detail string
}

func (e *ledgerErr) Error() string {
	if e.detail == "" {
		return e.reason
	}
	return e.reason + ": " + e.detail
}

func (e *ledgerErr) withDetail(format string, args ...any) *ledgerErr {
	return &ledgerErr{code: e.code, reason: e.reason, detail: fmt.Sprintf(format, args...)}
}

var (
	// Validation: rejected before any state change.
	errInvalidConfig     = &ledgerErr{code: codeValidation, reason: "InvalidConfig"}
	errBidExceedsCeiling = &ledgerErr{code: codeValidation, reason: "BidExceedsCeiling"}
	errBadTxValue        = &ledgerErr{code: codeValidation, reason: "BadTxValue"}

	// State conflict: caller-side sequencing bug or race against a
	// deadline signal.
	errAlreadyRegistered = &ledgerErr{code: codeStateConflict, reason: "AlreadyRegistered"}
	errCycleNotAccepting = &ledgerErr{code: codeStateConflict, reason: "CycleNotAccepting"}
	errCycleNotBidding   = &ledgerErr{code: codeStateConflict, reason: "CycleNotBidding"}
	errTooEarly          = &ledgerErr{code: codeStateConflict, reason: "TooEarly"}
	errAlreadyResolved   = &ledgerErr{code: codeStateConflict, reason: "AlreadyResolved"}
	errCycleNotResolved  = &ledgerErr{code: codeStateConflict, reason: "CycleNotResolved"}

	// Authorization.
	errUnauthorized = &ledgerErr{code: codeUnauthorized, reason: "Unauthorized"}

	// Not found / roster.
	errNotRegistered = &ledgerErr{code: codeNotFound, reason: "NotRegistered"}
	errNotAMember    = &ledgerErr{code: codeNotFound, reason: "NotAMember"}
	errPotNotFound   = &ledgerErr{code: codeNotFound, reason: "PotNotFound"}
	errCycleNotFound = &ledgerErr{code: codeNotFound, reason: "CycleNotFound"}
	errPotFull       = &ledgerErr{code: codeNotFound, reason: "PotFull"}
	errAlreadyJoined = &ledgerErr{code: codeNotFound, reason: "AlreadyJoined"}
	errPotClosed     = &ledgerErr{code: codeNotFound, reason: "PotClosed"}
)

func errResult(err error) *abci.ExecTxResult {
	if le, ok := err.(*ledgerErr); ok {
		return &abci.ExecTxResult{Code: le.code, Codespace: errCodespace, Log: le.Error()}
	}
	return &abci.ExecTxResult{Code: codeInternal, Codespace: errCodespace, Log: err.Error()}
}
