package market

import (
	"context"
	"encoding/json"

	"github.com/c2h5oh/datasize"

	core "proofmarket-backend/core/market"
)

// SeedData returns demo operators and proof requests for local development.
func SeedData() ([]core.OperatorRecord, []core.SignedRequest) {
	minRAM := 16 * datasize.GB
	minVRAM := 24 * datasize.GB

	operators := []core.OperatorRecord{
		{
			ID: "op-demo-a100",
			Resource: core.Resource{
				RAM:  core.Memory{Size: 128 * datasize.GB, Type: core.MemDDR5},
				SSD:  core.Memory{Size: 2 * datasize.TB},
				GPUs: []core.GPU{core.GPUFromModel(core.GPUNvidiaA100)},
				CPU:  core.CPU{Model: core.CPUEpyc},
			},
		},
		{
			ID: "op-demo-rtx3060",
			Resource: core.Resource{
				RAM:  core.Memory{Size: 32 * datasize.GB, Type: core.MemDDR4},
				SSD:  core.Memory{Size: 512 * datasize.GB},
				GPUs: []core.GPU{core.GPUFromModel(core.GPUGeForceRTX3060_12)},
				CPU:  core.CPU{Model: core.CPUIntelI7},
			},
		},
	}

	requests := []core.SignedRequest{
		{
			Payload: core.ProofRequest{
				Requester: "requester-demo",
				Prover:    json.RawMessage(`{"image":"sp1-prover:latest"}`),
				Verifier:  json.RawMessage(`{"image":"sp1-verifier:latest"}`),
				Requirement: core.ResourceRequirement{
					MinRAM:  &minRAM,
					MinVRAM: &minVRAM,
					MinGPUs: []core.GPUModel{core.GPUGeForceRTX3090},
				},
				Nonce: 1,
			},
			PublicKey: "0xdemo",
			Signature: "0xsig",
		},
	}
	return operators, requests
}

// Seed loads the demo fixtures into a store.
func Seed(ctx context.Context, s Store) error {
	operators, requests := SeedData()
	for _, op := range operators {
		if err := s.RegisterOperator(ctx, op.ID, op.Resource); err != nil {
			return err
		}
	}
	for _, req := range requests {
		id, err := s.CreateRequest(ctx, req)
		if err != nil {
			return err
		}
		if _, err := s.TransitionStatus(ctx, id, core.Accepted()); err != nil {
			return err
		}
	}
	return nil
}
