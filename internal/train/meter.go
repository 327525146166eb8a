package train

// RunningAverageMeter tracks the latest value and its exponential moving average.
type RunningAverageMeter struct {
	momentum float64
	val      float64
	avg      float64
	seen     bool
}

// NewRunningAverageMeter creates a meter; 0.99 is the usual momentum.
func NewRunningAverageMeter(momentum float64) *RunningAverageMeter {
	return &RunningAverageMeter{momentum: momentum}
}

// Update records v. The first value initializes the average.
func (m *RunningAverageMeter) Update(v float64) {
	if !m.seen {
		m.avg = v
		m.seen = true
	} else {
		m.avg = m.avg*m.momentum + v*(1-m.momentum)
	}
	m.val = v
}

// Val returns the latest value.
func (m *RunningAverageMeter) Val() float64 { return m.val }

// Avg returns the running average.
func (m *RunningAverageMeter) Avg() float64 { return m.avg }

// Reset forgets every value.
func (m *RunningAverageMeter) Reset() {
	m.val, m.avg, m.seen = 0, 0, false
}
