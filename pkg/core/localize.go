package core

// LocalizeData is the payload of a hypothesis data message.
type LocalizeData struct {
	PendingCount uint32       `json:"pendingCount"`
	PendingTime  float64      `json:"pendingTime"`
	Hypotheses   []Hypothesis `json:"hypotheses"`
}

// SetPoseRequest asks a localizer to re-initialise around Mean.
// Cov is accepted for compatibility and ignored by a ground-truth localizer.
type SetPoseRequest struct {
	Mean Pose       `json:"mean"`
	Cov  [6]float64 `json:"cov"`
}

// Particle is one weighted sample of a particle filter.
type Particle struct {
	Pose  Pose    `json:"pose"`
	Alpha float64 `json:"alpha"`
}

// ParticlesResponse answers a get-particles request.
type ParticlesResponse struct {
	Mean      Pose       `json:"mean"`
	Variance  float64    `json:"variance"`
	Particles []Particle `json:"particles"`
}
