package fingerprint

import (
	"encoding/json"
	"fmt"
)

// AgentResponse is the decoded payload of a reveal: the causal fingerprint an
// agent computed for the current session. The intervention vector is the
// perturbation the agent was asked to apply; the causal response is the
// observed delta in its output under that perturbation.
type AgentResponse struct {
	AgentID            string    `json:"agent_id"`
	InterventionVector []float64 `json:"intervention_vector"`
	CausalResponse     []float64 `json:"causal_response"`
	SpectralFeatures   []float64 `json:"spectral_features"`
	BasePrediction     float64   `json:"base_prediction"`
	ProofRef           string    `json:"proof_reference"`
}

// Encode serializes the response for use as reveal payload data.
func (r *AgentResponse) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode agent response: %w", err)
	}
	return data, nil
}

// Decode parses reveal payload data into an AgentResponse and validates its
// shape. dim is the session-fixed dimensionality; pass 0 to skip the check
// (used when the session dimension is established by the first reveal).
func Decode(data []byte, dim int) (*AgentResponse, error) {
	var r AgentResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if r.AgentID == "" {
		return nil, fmt.Errorf("agent response missing agent_id")
	}
	if len(r.CausalResponse) == 0 {
		return nil, fmt.Errorf("agent response has empty causal_response")
	}
	if len(r.InterventionVector) != len(r.CausalResponse) {
		return nil, fmt.Errorf("intervention/causal dimension mismatch: %d != %d",
			len(r.InterventionVector), len(r.CausalResponse))
	}
	if dim > 0 && len(r.CausalResponse) != dim {
		return nil, fmt.Errorf("causal_response dimension %d does not match session dimension %d",
			len(r.CausalResponse), dim)
	}
	return &r, nil
}

// Summary returns the scalar the aggregator averages for this agent: the base
// prediction shifted by the mean component of the causal response.
func (r *AgentResponse) Summary() float64 {
	if len(r.CausalResponse) == 0 {
		return r.BasePrediction
	}
	sum := 0.0
	for _, v := range r.CausalResponse {
		sum += v
	}
	return r.BasePrediction + sum/float64(len(r.CausalResponse))
}
