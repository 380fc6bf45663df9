package consts

// Solver defaults. A run file or netlist .options overrides them.
const (
	NewtonTol      = 1e-9  // Absolute residual and update tolerance
	RelTol         = 1e-6  // Relative residual and update tolerance
	NewtonMaxIter  = 100   // Newton iterations per solve
	MaxStepRetries = 10    // Step halvings before a run fails
	Growth         = 1.2   // Step growth after an accepted step
	Gmin           = 1e-12 // Conductance across capacitors at the operating point
	DivEpsilon     = 1e-15 // Denominators at or below this are singular
	TrTol          = 7.0   // Truncation error overestimate factor, as in SPICE
	LteRelTol      = 1e-3
	LteAbsTol      = 1e-6
)

// Ground node names.
const (
	Ground    = "0"
	GroundAlt = "gnd"
)

func IsGround(name string) bool {
	return name == Ground || name == GroundAlt
}
