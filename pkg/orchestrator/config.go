package orchestrator

import "time"

// Config holds per-run budgets and loop parameters. Values are passed
// through from the outer configuration surface unchanged; zero values fall
// back to the defaults below.
type Config struct {
	RunID string

	// Per-call deadlines.
	AETimeout      time.Duration
	ProposeTimeout time.Duration
	VerifyTimeout  time.Duration
	RefineTimeout  time.Duration

	// WallClockBudget bounds the whole run; checked at the top of every
	// CEGIS iteration.
	WallClockBudget time.Duration

	MaxIterations int

	// Plateau detection: the loop stops when max-min of the last
	// NoProgressK KPI samples falls below Epsilon.
	NoProgressK int
	Epsilon     float64

	// OscillationThreshold is the number of accept/fail alternations that
	// flags non-convergence.
	OscillationThreshold int

	// PCAPDir, when set, enables proof-carrying action records for the AE
	// step and the accepted candidate.
	PCAPDir string
}

const (
	defaultAETimeout       = 30 * time.Second
	defaultCallTimeout     = 15 * time.Second
	defaultWallClockBudget = 5 * time.Minute
	defaultMaxIterations   = 20
	defaultNoProgressK     = 3
	defaultEpsilon         = 1e-9
	defaultOscillation     = 3
)

func (c Config) withDefaults() Config {
	if c.AETimeout <= 0 {
		c.AETimeout = defaultAETimeout
	}
	if c.ProposeTimeout <= 0 {
		c.ProposeTimeout = defaultCallTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = defaultCallTimeout
	}
	if c.RefineTimeout <= 0 {
		c.RefineTimeout = defaultCallTimeout
	}
	if c.WallClockBudget <= 0 {
		c.WallClockBudget = defaultWallClockBudget
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = defaultMaxIterations
	}
	if c.NoProgressK <= 0 {
		c.NoProgressK = defaultNoProgressK
	}
	if c.Epsilon <= 0 {
		c.Epsilon = defaultEpsilon
	}
	if c.OscillationThreshold <= 0 {
		c.OscillationThreshold = defaultOscillation
	}
	return c
}
