package learner

import (
	"encoding/json"
	"errors"
	"fmt"
)

const FormatVersion = 1

// Envelope is the persisted form of any Learner: the backend payload plus the
// metadata needed to route and validate it at load time.
type Envelope struct {
	FormatVersion int             `json:"format_version"`
	Family        string          `json:"family"`
	FeatureNames  []string        `json:"feature_names"`
	Payload       json.RawMessage `json:"payload"`
}

func Save(l Learner) ([]byte, error) {
	if l == nil {
		return nil, errors.New("nil learner")
	}
	payload, err := l.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", l.Family(), err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%s payload is not json", l.Family())
	}
	return json.Marshal(Envelope{
		FormatVersion: FormatVersion,
		Family:        l.Family(),
		FeatureNames:  l.FeatureNames(),
		Payload:       payload,
	})
}

func Open(blob []byte) (Envelope, error) {
	if len(blob) == 0 {
		return Envelope{}, errors.New("empty artifact")
	}
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode artifact: %w", err)
	}
	if env.FormatVersion != FormatVersion {
		return Envelope{}, fmt.Errorf("unsupported artifact format %d", env.FormatVersion)
	}
	if env.Family == "" || len(env.Payload) == 0 {
		return Envelope{}, errors.New("artifact missing family or payload")
	}
	return env, nil
}
