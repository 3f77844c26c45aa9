package market

import (
	"cmp"

	"github.com/c2h5oh/datasize"
)

// GPUModel is a named GPU. Named models carry a fixed ordinal rank: a model
// later in the ladder is considered strictly more capable than every model
// before it, regardless of raw specs.
type GPUModel string

const (
	GPUGeForceGTX1070    GPUModel = "geForceGtx1070"
	GPUGeForceGTX1070Ti  GPUModel = "geForceGtx1070Ti"
	GPUGeForceGTX1080    GPUModel = "geForceGtx1080"
	GPUGeForceGTX1080Ti  GPUModel = "geForceGtx1080Ti"
	GPUGeForceRTX2060    GPUModel = "geForceRtx2060"
	GPUGeForceRTX2070    GPUModel = "geForceRtx2070"
	GPUGeForceRTX2080    GPUModel = "geForceRtx2080"
	GPUGeForceRTX2080Ti  GPUModel = "geForceRtx2080Ti"
	GPUTeslaT4           GPUModel = "t4"
	GPUGeForceRTX3060    GPUModel = "geForceRtx3060_8GB"
	GPUGeForceRTX3060_12 GPUModel = "geForceRtx3060_12GB"
	GPUGeForceRTX3060Ti  GPUModel = "geForceRtx3060Ti"
	GPUGeForceRTX3070    GPUModel = "geForceRtx3070"
	GPUGeForceRTX3070Ti  GPUModel = "geForceRtx3070Ti"
	GPUGeForceRTX3080    GPUModel = "geForceRtx3080"
	GPUGeForceRTX3080_12 GPUModel = "geForceRtx3080_12GB"
	GPUGeForceRTX3080Ti  GPUModel = "geForceRtx3080Ti"
	GPUGeForceRTX3090    GPUModel = "geForceRtx3090"
	GPUGeForceRTX3090Ti  GPUModel = "geForceRtx3090Ti"
	GPUNvidiaA10         GPUModel = "nvidiaA10"
	GPUNvidiaA40         GPUModel = "nvidiaA40"
	GPUNvidiaL4          GPUModel = "l4"
	GPUGeForceRTX4060    GPUModel = "geForceRtx4060"
	GPUGeForceRTX4060Ti  GPUModel = "geForceRtx4060Ti"
	GPUGeForceRTX4070    GPUModel = "geForceRtx4070"
	GPUGeForceRTX4070Ti  GPUModel = "geForceRtx4070Ti"
	GPUGeForceRTX4080    GPUModel = "geForceRtx4080"
	GPUGeForceRTX4090    GPUModel = "geForceRtx4090"
	GPUNvidiaV100        GPUModel = "v100"
	GPUNvidiaL40S        GPUModel = "l40S"
	GPUNvidiaA100        GPUModel = "a100"
	GPUNvidiaH100        GPUModel = "h100"
)

// gpuLadder fixes the total order over named models, weakest first.
var gpuLadder = []GPUModel{
	GPUGeForceGTX1070,
	GPUGeForceGTX1070Ti,
	GPUGeForceGTX1080,
	GPUGeForceGTX1080Ti,
	GPUGeForceRTX2060,
	GPUGeForceRTX2070,
	GPUGeForceRTX2080,
	GPUGeForceRTX2080Ti,
	GPUTeslaT4,
	GPUGeForceRTX3060,
	GPUGeForceRTX3060_12,
	GPUGeForceRTX3060Ti,
	GPUGeForceRTX3070,
	GPUGeForceRTX3070Ti,
	GPUGeForceRTX3080,
	GPUGeForceRTX3080_12,
	GPUGeForceRTX3080Ti,
	GPUGeForceRTX3090,
	GPUGeForceRTX3090Ti,
	GPUNvidiaA10,
	GPUNvidiaA40,
	GPUNvidiaL4,
	GPUGeForceRTX4060,
	GPUGeForceRTX4060Ti,
	GPUGeForceRTX4070,
	GPUGeForceRTX4070Ti,
	GPUGeForceRTX4080,
	GPUGeForceRTX4090,
	GPUNvidiaV100,
	GPUNvidiaL40S,
	GPUNvidiaA100,
	GPUNvidiaH100,
}

var gpuRanks = func() map[GPUModel]int {
	m := make(map[GPUModel]int, len(gpuLadder))
	for i, model := range gpuLadder {
		m[model] = i
	}
	return m
}()

// GPUSpecs describes a GPU by raw capability numbers.
type GPUSpecs struct {
	Cores       uint64            `json:"cores"`
	VRAM        datasize.ByteSize `json:"vramBytes"`
	ClockRateHz uint64            `json:"clockRateHz"`
}

var gpuSpecsTable = map[GPUModel]GPUSpecs{
	GPUGeForceGTX1070:    {Cores: 1_920, VRAM: 8 * datasize.GB, ClockRateHz: 1_506_000_000},
	GPUGeForceGTX1070Ti:  {Cores: 2_432, VRAM: 8 * datasize.GB, ClockRateHz: 1_607_000_000},
	GPUGeForceGTX1080:    {Cores: 2_560, VRAM: 8 * datasize.GB, ClockRateHz: 1_607_000_000},
	GPUGeForceGTX1080Ti:  {Cores: 3_584, VRAM: 11 * datasize.GB, ClockRateHz: 1_480_000_000},
	GPUGeForceRTX2060:    {Cores: 1_920, VRAM: 6 * datasize.GB, ClockRateHz: 1_365_000_000},
	GPUGeForceRTX2070:    {Cores: 2_304, VRAM: 8 * datasize.GB, ClockRateHz: 1_410_000_000},
	GPUGeForceRTX2080:    {Cores: 2_944, VRAM: 8 * datasize.GB, ClockRateHz: 1_515_000_000},
	GPUGeForceRTX2080Ti:  {Cores: 4_352, VRAM: 11 * datasize.GB, ClockRateHz: 1_350_000_000},
	GPUTeslaT4:           {Cores: 2_560, VRAM: 16 * datasize.GB, ClockRateHz: 585_000_000},
	GPUGeForceRTX3060:    {Cores: 3_584, VRAM: 8 * datasize.GB, ClockRateHz: 1_320_000_000},
	GPUGeForceRTX3060_12: {Cores: 3_584, VRAM: 12 * datasize.GB, ClockRateHz: 1_320_000_000},
	GPUGeForceRTX3060Ti:  {Cores: 4_864, VRAM: 8 * datasize.GB, ClockRateHz: 1_410_000_000},
	GPUGeForceRTX3070:    {Cores: 5_888, VRAM: 8 * datasize.GB, ClockRateHz: 1_500_000_000},
	GPUGeForceRTX3070Ti:  {Cores: 6_144, VRAM: 8 * datasize.GB, ClockRateHz: 1_575_000_000},
	GPUGeForceRTX3080:    {Cores: 8_704, VRAM: 10 * datasize.GB, ClockRateHz: 1_440_000_000},
	GPUGeForceRTX3080_12: {Cores: 8_960, VRAM: 12 * datasize.GB, ClockRateHz: 1_260_000_000},
	GPUGeForceRTX3080Ti:  {Cores: 10_240, VRAM: 12 * datasize.GB, ClockRateHz: 1_365_000_000},
	GPUGeForceRTX3090:    {Cores: 10_496, VRAM: 24 * datasize.GB, ClockRateHz: 1_395_000_000},
	GPUGeForceRTX3090Ti:  {Cores: 10_752, VRAM: 24 * datasize.GB, ClockRateHz: 1_560_000_000},
	GPUNvidiaA10:         {Cores: 9_216, VRAM: 24 * datasize.GB, ClockRateHz: 885_000_000},
	GPUNvidiaA40:         {Cores: 10_752, VRAM: 48 * datasize.GB, ClockRateHz: 1_305_000_000},
	GPUNvidiaL4:          {Cores: 7_424, VRAM: 24 * datasize.GB, ClockRateHz: 795_000_000},
	GPUGeForceRTX4060:    {Cores: 3_072, VRAM: 8 * datasize.GB, ClockRateHz: 1_830_000_000},
	GPUGeForceRTX4060Ti:  {Cores: 4_352, VRAM: 8 * datasize.GB, ClockRateHz: 2_310_000_000},
	GPUGeForceRTX4070:    {Cores: 5_888, VRAM: 12 * datasize.GB, ClockRateHz: 1_920_000_000},
	GPUGeForceRTX4070Ti:  {Cores: 7_680, VRAM: 12 * datasize.GB, ClockRateHz: 2_310_000_000},
	GPUGeForceRTX4080:    {Cores: 9_728, VRAM: 16 * datasize.GB, ClockRateHz: 2_205_000_000},
	GPUGeForceRTX4090:    {Cores: 16_384, VRAM: 24 * datasize.GB, ClockRateHz: 2_235_000_000},
	GPUNvidiaV100:        {Cores: 5_120, VRAM: 16 * datasize.GB, ClockRateHz: 1_245_000_000},
	GPUNvidiaL40S:        {Cores: 18_176, VRAM: 48 * datasize.GB, ClockRateHz: 1_110_000_000},
	GPUNvidiaA100:        {Cores: 6_912, VRAM: 80 * datasize.GB, ClockRateHz: 1_065_000_000},
	GPUNvidiaH100:        {Cores: 14_592, VRAM: 80 * datasize.GB, ClockRateHz: 1_590_000_000},
}

// defaultGPUSpecs is used for models missing from the table.
var defaultGPUSpecs = GPUSpecs{Cores: 4_864, VRAM: 8 * datasize.GB, ClockRateHz: 1_410_000_000}

// Specs resolves a named model to its fixed spec sheet.
func (m GPUModel) Specs() GPUSpecs {
	if s, ok := gpuSpecsTable[m]; ok {
		return s
	}
	return defaultGPUSpecs
}

func (m GPUModel) rank() (int, bool) {
	r, ok := gpuRanks[m]
	return r, ok
}

// GPU is an advertised graphics card: either a named model or explicit specs.
// Exactly one of the two fields is set.
type GPU struct {
	Model GPUModel  `json:"model,omitempty"`
	Specs *GPUSpecs `json:"specs,omitempty"`
}

func GPUFromModel(m GPUModel) GPU { return GPU{Model: m} }

func GPUFromSpecs(s GPUSpecs) GPU { return GPU{Specs: &s} }

func (g GPU) IsZero() bool { return g.Model == "" && g.Specs == nil }

// EffectiveSpecs resolves the card to concrete numbers.
func (g GPU) EffectiveSpecs() GPUSpecs {
	if g.Specs != nil {
		return *g.Specs
	}
	return g.Model.Specs()
}

// Compare orders GPUs. Two named models compare by ordinal rank; any other
// pairing compares by (VRAM, cores, clock).
func (g GPU) Compare(o GPU) int {
	if g.Model != "" && o.Model != "" {
		gr, gok := g.Model.rank()
		or, ook := o.Model.rank()
		if gok && ook {
			return cmp.Compare(gr, or)
		}
	}
	gs, os := g.EffectiveSpecs(), o.EffectiveSpecs()
	if c := cmp.Compare(gs.VRAM, os.VRAM); c != 0 {
		return c
	}
	if c := cmp.Compare(gs.Cores, os.Cores); c != 0 {
		return c
	}
	return cmp.Compare(gs.ClockRateHz, os.ClockRateHz)
}

// FulfillsTier reports whether this card can stand in for the required tier.
func (g GPU) FulfillsTier(tier GPUModel) bool {
	return g.Compare(GPUFromModel(tier)) >= 0
}
