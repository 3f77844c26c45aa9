package market

import (
	"cmp"

	"github.com/c2h5oh/datasize"
)

// MemoryType tags the technology of a memory bank, ordered oldest first.
type MemoryType string

const (
	MemDDR3   MemoryType = "ddr3"
	MemDDR4   MemoryType = "ddr4"
	MemDDR5   MemoryType = "ddr5"
	MemGDDR6  MemoryType = "gddr6"
	MemGDDR6X MemoryType = "gddr6x"
	MemHBM2   MemoryType = "hbm2"
)

var memoryTypeRanks = map[MemoryType]int{
	MemDDR3:   0,
	MemDDR4:   1,
	MemDDR5:   2,
	MemGDDR6:  3,
	MemGDDR6X: 4,
	MemHBM2:   5,
}

// Memory is a sized bank of a particular technology.
type Memory struct {
	Size datasize.ByteSize `json:"sizeBytes"`
	Type MemoryType        `json:"type"`
}

// Compare orders by size, then technology.
func (m Memory) Compare(o Memory) int {
	if c := cmp.Compare(m.Size, o.Size); c != 0 {
		return c
	}
	return cmp.Compare(memoryTypeRanks[m.Type], memoryTypeRanks[o.Type])
}

// ResourceRequirement is the minimum capability a request demands from an
// operator. Nil pointer fields are unconstrained. MinGPUs lists required GPU
// tiers in order; each tier must be covered by a distinct physical GPU.
type ResourceRequirement struct {
	MinVRAM     *datasize.ByteSize `json:"minVram,omitempty"`
	MinRAM      *datasize.ByteSize `json:"minRam,omitempty"`
	MinSSD      *datasize.ByteSize `json:"minSsd,omitempty"`
	MinGPUs     []GPUModel         `json:"minGpu"`
	MinCPUCores *uint64            `json:"minCpuCores,omitempty"`
}

// Resource is what an operator advertises.
type Resource struct {
	RAM  Memory `json:"ram"`
	SSD  Memory `json:"ssd"`
	GPUs []GPU  `json:"gpus"`
	CPU  CPU    `json:"cpu"`
}

// Fulfills reports whether this resource satisfies the requirement.
//
// Scalar minimums fail fast. The VRAM floor applies to every advertised GPU,
// not only the ones a tier ends up claiming: a machine with one undersized
// card is rejected outright. GPU tiers are then matched first-fit: for each
// required tier, in requirement order, the first unclaimed GPU (in advertised
// order) whose rank covers the tier is claimed. There is no backtracking, so
// the result is deterministic but not optimal; downstream selection depends
// on exactly this behavior.
func (r Resource) Fulfills(req ResourceRequirement) bool {
	if req.MinRAM != nil && r.RAM.Size < *req.MinRAM {
		return false
	}
	if req.MinSSD != nil && r.SSD.Size < *req.MinSSD {
		return false
	}
	if req.MinCPUCores != nil && r.CPU.EffectiveSpecs().Cores < *req.MinCPUCores {
		return false
	}
	if req.MinVRAM != nil {
		for _, gpu := range r.GPUs {
			if gpu.EffectiveSpecs().VRAM < *req.MinVRAM {
				return false
			}
		}
	}

	claimed := make(map[int]bool, len(req.MinGPUs))
	for _, tier := range req.MinGPUs {
		for i, gpu := range r.GPUs {
			if claimed[i] {
				continue
			}
			if gpu.FulfillsTier(tier) {
				claimed[i] = true
				break
			}
		}
	}
	return len(claimed) == len(req.MinGPUs)
}

// BestGPU returns the highest-ranked advertised GPU, or false when there is
// none.
func (r Resource) BestGPU() (GPU, bool) {
	if len(r.GPUs) == 0 {
		return GPU{}, false
	}
	best := r.GPUs[0]
	for _, gpu := range r.GPUs[1:] {
		if gpu.Compare(best) > 0 {
			best = gpu
		}
	}
	return best, true
}

// Compare ranks competing resources: best single GPU dominates (a machine
// with no GPU sorts below any machine with one), then RAM, then CPU.
func (r Resource) Compare(o Resource) int {
	rBest, rHas := r.BestGPU()
	oBest, oHas := o.BestGPU()
	switch {
	case rHas && oHas:
		if c := rBest.Compare(oBest); c != 0 {
			return c
		}
	case rHas:
		return 1
	case oHas:
		return -1
	}
	if c := r.RAM.Compare(o.RAM); c != 0 {
		return c
	}
	return r.CPU.Compare(o.CPU)
}
