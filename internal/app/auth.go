package app

import (
	"crypto/ed25519"
	"strconv"

	"potchain/internal/codec"
	"potchain/internal/state"
)

func requireSignedEnvelope(env codec.TxEnvelope) error {
	if env.Nonce == "" {
		return errUnauthorized.withDetail("missing tx.nonce")
	}
	if env.Signer == "" {
		return errUnauthorized.withDetail("missing tx.signer")
	}
	if len(env.Sig) != ed25519.SignatureSize {
		return errUnauthorized.withDetail("invalid tx.sig length: got %d want %d", len(env.Sig), ed25519.SignatureSize)
	}
	return nil
}

func verifyEnvelopeSig(env codec.TxEnvelope, pub []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return errUnauthorized.withDetail("signer %q has no registered pubKey", env.Signer)
	}
	msg := codec.SignBytes(env.Type, env.Value, env.Nonce, env.Signer)
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, env.Sig) {
		return errUnauthorized.withDetail("invalid signature")
	}
	return nil
}

// requireAuthorizedCaller gates the custody-facing mutation entry points:
// the signer must be on the allow-list (the admin qualifies too) and the
// signature must verify against its registered key.
func requireAuthorizedCaller(st *state.State, env codec.TxEnvelope) error {
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if env.Signer == st.Admin {
		return verifyEnvelopeSig(env, st.AdminPubKey)
	}
	c := st.Callers[env.Signer]
	if c == nil {
		return errUnauthorized.withDetail("signer %q is not an authorized caller", env.Signer)
	}
	return verifyEnvelopeSig(env, c.PubKey)
}

// requireAdmin gates allow-list mutations.
func requireAdmin(st *state.State, env codec.TxEnvelope) error {
	if err := requireSignedEnvelope(env); err != nil {
		return err
	}
	if st.Admin == "" {
		return errUnauthorized.withDetail("no admin configured")
	}
	if env.Signer != st.Admin {
		return errUnauthorized.withDetail("signer %q is not the admin", env.Signer)
	}
	return verifyEnvelopeSig(env, st.AdminPubKey)
}

// consumeNonce enforces strictly increasing numeric nonces per signer.
// Called on the staged state only after auth succeeds, so rejected txs do
// not burn nonces.
func consumeNonce(st *state.State, env codec.TxEnvelope) error {
	n, err := strconv.ParseUint(env.Nonce, 10, 64)
	if err != nil {
		return errUnauthorized.withDetail("invalid tx.nonce %q: must be a uint64", env.Nonce)
	}
	if last, ok := st.NonceMax[env.Signer]; ok && n <= last {
		return errUnauthorized.withDetail("replayed tx.nonce: got %d last %d", n, last)
	}
	st.NonceMax[env.Signer] = n
	return nil
}
