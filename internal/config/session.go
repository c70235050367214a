package config

// Session is the tuple of parameters that fixes a ParallelController's
// entire lifetime (spec.md §3). All workers in a controller share one
// Session; switching sessions requires a full teardown.
type Session struct {
	BlockHash      string  `json:"block_hash"`
	BlockHeight    uint64  `json:"block_height"`
	PublicKey      string  `json:"public_key"`
	BatchSize      int     `json:"batch_size"`
	RTarget        float32 `json:"r_target"`
	FraudThreshold float64 `json:"fraud_threshold"`
	Params         Params  `json:"params"`
}

// Validate checks the session's own fields; Params is validated
// separately via Params.Validate.
func (s Session) Validate() error {
	switch {
	case s.BlockHash == "":
		return ErrMissingBlockHash
	case s.PublicKey == "":
		return ErrMissingPublicKey
	case s.BatchSize <= 0:
		return ErrInvalidBatchSize
	case s.RTarget <= 0:
		return ErrInvalidRTarget
	case s.FraudThreshold <= 0 || s.FraudThreshold >= 1:
		return ErrInvalidFraudThreshold
	}
	return s.Params.Validate()
}

// PowInitRequest is the body of POST /pow/init, /pow/init/generate and
// /pow/init/validate (spec.md §6).
type PowInitRequest struct {
	URL            string  `json:"url"`
	BlockHash      string  `json:"block_hash"`
	BlockHeight    uint64  `json:"block_height"`
	PublicKey      string  `json:"public_key"`
	BatchSize      int     `json:"batch_size"`
	RTarget        float32 `json:"r_target"`
	FraudThreshold float64 `json:"fraud_threshold"`
	Params         Params  `json:"params"`
}

// Validate checks the request's own fields and the embedded Session.
func (r PowInitRequest) Validate() error {
	if r.URL == "" {
		return ErrMissingSinkURL
	}
	return r.Session().Validate()
}

// Session extracts the Session embedded in this init request.
func (r PowInitRequest) Session() Session {
	return Session{
		BlockHash:      r.BlockHash,
		BlockHeight:    r.BlockHeight,
		PublicKey:      r.PublicKey,
		BatchSize:      r.BatchSize,
		RTarget:        r.RTarget,
		FraudThreshold: r.FraudThreshold,
		Params:         r.Params,
	}
}
