package config

// Overrides captures CLI supplied values. Nil fields leave the loaded value
// untouched.
type Overrides struct {
	Network            *string
	Tol                *float64
	Adjoint            *bool
	Method             *string
	StepSize           *float64
	DownsamplingMethod *string
	Width              *int
	NEpochs            *int
	DataAug            *bool
	LR                 *float64
	Momentum           *float64
	WeightDecay        *float64
	BatchSize          *int
	TestBatchSize      *int
	DataDir            *string
	Download           *bool
	Mirror             *string
	SaveDir            *string
	Seed               *int64
	Debug              *bool
	LogFile            *string
	Plot               *string
	MaxTrainSamples    *int
	MaxTestSamples     *int
	Synthetic          *bool
}

// ApplyOverrides updates h with every non-nil override.
func (h *Hyperparams) ApplyOverrides(o Overrides) {
	set(&h.Network, o.Network)
	set(&h.Tol, o.Tol)
	set(&h.Adjoint, o.Adjoint)
	set(&h.Method, o.Method)
	set(&h.StepSize, o.StepSize)
	set(&h.DownsamplingMethod, o.DownsamplingMethod)
	set(&h.Width, o.Width)
	set(&h.NEpochs, o.NEpochs)
	set(&h.DataAug, o.DataAug)
	set(&h.LR, o.LR)
	set(&h.Momentum, o.Momentum)
	set(&h.WeightDecay, o.WeightDecay)
	set(&h.BatchSize, o.BatchSize)
	set(&h.TestBatchSize, o.TestBatchSize)
	set(&h.DataDir, o.DataDir)
	set(&h.Download, o.Download)
	set(&h.Mirror, o.Mirror)
	set(&h.SaveDir, o.SaveDir)
	set(&h.Seed, o.Seed)
	set(&h.Debug, o.Debug)
	set(&h.LogFile, o.LogFile)
	set(&h.Plot, o.Plot)
	set(&h.MaxTrainSamples, o.MaxTrainSamples)
	set(&h.MaxTestSamples, o.MaxTestSamples)
	set(&h.Synthetic, o.Synthetic)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
