package testutil

// DefaultExperimentID is returned by a FixedIDGenerator built with an
// empty id.
const DefaultExperimentID = "test-experiment"

// FixedIDGenerator returns the same experiment id every time.
//
// Unlike engine.FixedGenerator, which hands out ids in sequence, this one
// never runs out, so a scenario can be run repeatedly against fresh
// stores with byte-identical results.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator for id.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = DefaultExperimentID
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
