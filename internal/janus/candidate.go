package janus

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Candidate is a trickled ICE candidate or the end-of-candidates marker.
type Candidate struct {
	Init      webrtc.ICECandidateInit
	Completed bool
}

// CompletedCandidate marks the end of gathering.
var CompletedCandidate = Candidate{Completed: true}

func (c Candidate) MarshalJSON() ([]byte, error) {
	if c.Completed {
		return []byte(`{"completed":true}`), nil
	}
	return json.Marshal(c.Init)
}

func (c *Candidate) UnmarshalJSON(b []byte) error {
	var probe struct {
		Completed bool `json:"completed"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if probe.Completed {
		*c = CompletedCandidate
		return nil
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(b, &init); err != nil {
		return err
	}
	// Browsers signal end-of-candidates with an empty candidate string.
	if init.Candidate == "" {
		*c = CompletedCandidate
		return nil
	}
	*c = Candidate{Init: init}
	return nil
}
