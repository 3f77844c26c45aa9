package market

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
)

func sampleRequest() ProofRequest {
	minRAM := 16 * datasize.GB
	return ProofRequest{
		Requester: "requester-1",
		Prover:    json.RawMessage(`{"image":"prover:v1"}`),
		Verifier:  json.RawMessage(`{"image":"verifier:v1"}`),
		Requirement: ResourceRequirement{
			MinRAM:  &minRAM,
			MinGPUs: []GPUModel{GPUGeForceRTX3090},
		},
		Nonce: 7,
	}
}

func TestRequestIDDeterministic(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	if a.ID() != b.ID() {
		t.Error("identical requests should hash to the same id")
	}
	if len(a.ID()) != 64 {
		t.Errorf("id should be a hex sha256 digest, got %d chars", len(a.ID()))
	}
}

func TestRequestIDCoversFields(t *testing.T) {
	base := sampleRequest()

	mutations := map[string]func(*ProofRequest){
		"requester": func(r *ProofRequest) { r.Requester = "requester-2" },
		"prover":    func(r *ProofRequest) { r.Prover = json.RawMessage(`{"image":"prover:v2"}`) },
		"verifier":  func(r *ProofRequest) { r.Verifier = json.RawMessage(`{"image":"verifier:v2"}`) },
		"nonce":     func(r *ProofRequest) { r.Nonce = 8 },
		"callback":  func(r *ProofRequest) { r.CallbackURL = "https://example.com/done" },
		"deadline": func(r *ProofRequest) {
			d := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			r.Deadline = &d
		},
		"requirement": func(r *ProofRequest) { r.Requirement.MinGPUs = []GPUModel{GPUNvidiaA100} },
	}

	for name, mutate := range mutations {
		mutated := sampleRequest()
		mutate(&mutated)
		if mutated.ID() == base.ID() {
			t.Errorf("changing %s should change the request id", name)
		}
	}
}

func TestSignedRequestIDIgnoresEnvelope(t *testing.T) {
	a := SignedRequest{Payload: sampleRequest(), PublicKey: "0xAAA", Signature: "0x111"}
	b := SignedRequest{Payload: sampleRequest(), PublicKey: "0xBBB", Signature: "0x222"}
	if a.ID() != b.ID() {
		t.Error("signature envelope should not affect the request id")
	}
}
