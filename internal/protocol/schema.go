package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the forward and reverse channel messages,
// keyed by "lifecycle" and "control".
func Schema() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	doc := map[string]*jsonschema.Schema{
		"lifecycle": reflector.Reflect(&Message{}),
		"control":   reflector.Reflect(&Control{}),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol schema: %w", err)
	}
	return raw, nil
}
