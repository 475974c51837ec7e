package reward

// Snapshot is the serialised form of a Calculator.
type Snapshot struct {
	ClipMin    float64     `json:"clip_min"`
	ClipMax    float64     `json:"clip_max"`
	Components []Component `json:"components"`
}

// Snapshot copies the configuration.
func (c *Calculator) Snapshot() Snapshot {
	return Snapshot{
		ClipMin:    c.clipMin,
		ClipMax:    c.clipMax,
		Components: c.Components(),
	}
}

// FromSnapshot rebuilds a calculator. A snapshot with both clip bounds at
// zero takes the default range.
func FromSnapshot(s Snapshot) (*Calculator, error) {
	clipMin, clipMax := s.ClipMin, s.ClipMax
	if clipMin == 0 && clipMax == 0 {
		clipMin, clipMax = DefaultClipMin, DefaultClipMax
	}
	return New(s.Components, clipMin, clipMax)
}
