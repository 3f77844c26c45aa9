package market

import "cmp"

// CPUModel is a named CPU family with a fixed ordinal rank, weakest first.
type CPUModel string

const (
	CPUIntelI3      CPUModel = "intelI3"
	CPURyzen3       CPUModel = "ryzen3"
	CPUIntelI5      CPUModel = "intelI5"
	CPURyzen5       CPUModel = "ryzen5"
	CPUIntelI7      CPUModel = "intelI7"
	CPURyzen7       CPUModel = "ryzen7"
	CPUIntelI9      CPUModel = "intelI9"
	CPUIntelXeon    CPUModel = "intelXeon"
	CPUThreadripper CPUModel = "threadripper"
	CPUEpyc         CPUModel = "epyc"
)

var cpuLadder = []CPUModel{
	CPUIntelI3,
	CPURyzen3,
	CPUIntelI5,
	CPURyzen5,
	CPUIntelI7,
	CPURyzen7,
	CPUIntelI9,
	CPUIntelXeon,
	CPUThreadripper,
	CPUEpyc,
}

var cpuRanks = func() map[CPUModel]int {
	m := make(map[CPUModel]int, len(cpuLadder))
	for i, model := range cpuLadder {
		m[model] = i
	}
	return m
}()

// CPUSpecs describes a CPU by raw capability numbers.
type CPUSpecs struct {
	Cores       uint64 `json:"cores"`
	ClockRateHz uint64 `json:"clockRateHz"`
}

var cpuSpecsTable = map[CPUModel]CPUSpecs{
	CPUIntelI3:      {Cores: 4, ClockRateHz: 3_600_000_000},
	CPURyzen3:       {Cores: 4, ClockRateHz: 3_800_000_000},
	CPUIntelI5:      {Cores: 6, ClockRateHz: 3_700_000_000},
	CPURyzen5:       {Cores: 6, ClockRateHz: 3_900_000_000},
	CPUIntelI7:      {Cores: 8, ClockRateHz: 3_600_000_000},
	CPURyzen7:       {Cores: 8, ClockRateHz: 3_800_000_000},
	CPUIntelI9:      {Cores: 16, ClockRateHz: 3_200_000_000},
	CPUIntelXeon:    {Cores: 24, ClockRateHz: 2_700_000_000},
	CPUThreadripper: {Cores: 32, ClockRateHz: 3_500_000_000},
	CPUEpyc:         {Cores: 64, ClockRateHz: 2_450_000_000},
}

var defaultCPUSpecs = CPUSpecs{Cores: 8, ClockRateHz: 3_800_000_000}

// Specs resolves a named model to its fixed spec sheet.
func (m CPUModel) Specs() CPUSpecs {
	if s, ok := cpuSpecsTable[m]; ok {
		return s
	}
	return defaultCPUSpecs
}

// CPU is an advertised processor: either a named model or explicit specs.
type CPU struct {
	Model CPUModel  `json:"model,omitempty"`
	Specs *CPUSpecs `json:"specs,omitempty"`
}

func CPUFromModel(m CPUModel) CPU { return CPU{Model: m} }

func CPUFromSpecs(s CPUSpecs) CPU { return CPU{Specs: &s} }

// EffectiveSpecs resolves the processor to concrete numbers.
func (c CPU) EffectiveSpecs() CPUSpecs {
	if c.Specs != nil {
		return *c.Specs
	}
	return c.Model.Specs()
}

// Compare orders CPUs. Two named models compare by ordinal rank; any other
// pairing compares by (cores, clock).
func (c CPU) Compare(o CPU) int {
	if c.Model != "" && o.Model != "" {
		cr, cok := cpuRanks[c.Model]
		or, ook := cpuRanks[o.Model]
		if cok && ook {
			return cmp.Compare(cr, or)
		}
	}
	cs, os := c.EffectiveSpecs(), o.EffectiveSpecs()
	if v := cmp.Compare(cs.Cores, os.Cores); v != 0 {
		return v
	}
	return cmp.Compare(cs.ClockRateHz, os.ClockRateHz)
}
