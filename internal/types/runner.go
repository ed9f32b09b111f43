package types

import (
	"encoding/json"
	"fmt"
)

// RunnerResult is the structured outcome emitted by the redeem runner on
// standard output. The wire shape is a JSON object of pair arrays:
//
//	{"success": [["123456789", "Success"], ...],
//	 "failure": [["987654321", "Invalid Code"], ...]}
//
// The runner exits non-zero iff the failure list is non-empty; the exit code
// is advisory only, the stdout document is authoritative.
type RunnerResult struct {
	Success []ResultPair `json:"success"`
	Failure []ResultPair `json:"failure"`
}

// ResultPair is a [player_id, detail] tuple on the wire. For successes the
// detail is the literal "Success"; for failures it is the reason string.
type ResultPair struct {
	PlayerID string
	Detail   string
}

// UnmarshalJSON decodes the two-element array form.
func (p *ResultPair) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("runner result pair: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("runner result pair: expected 2 elements, got %d", len(raw))
	}
	p.PlayerID = raw[0]
	p.Detail = raw[1]
	return nil
}

// MarshalJSON encodes back to the two-element array form.
func (p ResultPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.PlayerID, p.Detail})
}

// ParseRunnerResult decodes and validates a raw runner stdout document.
func ParseRunnerResult(raw []byte) (*RunnerResult, error) {
	var res RunnerResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, NewAppError(ErrCodeRunnerMalformed, "runner output is not a valid result document", err)
	}
	return &res, nil
}
