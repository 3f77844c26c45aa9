package market

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"time"
)

// RequestID is the hex-encoded content hash of a proof request payload.
type RequestID string

// ProofRequest is the immutable job submission. Prover and Verifier are
// opaque executable descriptors; the matchmaker stores and forwards them
// unchanged.
type ProofRequest struct {
	Requester   string              `json:"requester"`
	Prover      json.RawMessage     `json:"prover"`
	Verifier    json.RawMessage     `json:"verifier"`
	Requirement ResourceRequirement `json:"resourceRequirement"`
	CallbackURL string              `json:"callbackUrl,omitempty"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	Nonce       uint64              `json:"nonce"`
}

// ID derives the request identity from the payload content. Every field
// participates so two requests differing only by nonce get distinct ids.
func (p ProofRequest) ID() RequestID {
	h := sha256.New()
	h.Write([]byte(p.Requester))
	h.Write(p.Prover)
	h.Write(p.Verifier)
	reqJSON, _ := json.Marshal(p.Requirement)
	h.Write(reqJSON)
	if p.CallbackURL != "" {
		h.Write([]byte(p.CallbackURL))
	}
	if p.Deadline != nil {
		h.Write([]byte(p.Deadline.UTC().Format(time.RFC3339Nano)))
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], p.Nonce)
	h.Write(nonce[:])
	return RequestID(hex.EncodeToString(h.Sum(nil)))
}

// SignedRequest wraps a payload with the requester's signature. Signature
// validity is checked by the caller before the request reaches the store;
// here both fields are opaque.
type SignedRequest struct {
	Payload   ProofRequest `json:"payload"`
	PublicKey string       `json:"publicKey"`
	Signature string       `json:"signature"`
}

// ID is the content hash of the signed payload.
func (s SignedRequest) ID() RequestID {
	return s.Payload.ID()
}
