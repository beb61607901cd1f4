package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"

	cfg "github.com/codeway/config-service/internal/app/domain/config"
	"github.com/codeway/config-service/internal/errors"
)

// parseUpdatePayload decodes the admin update body and validates every
// parameter entry before the document is applied. Metadata keys and keys
// beginning with an underscore are passed through untouched.
func parseUpdatePayload(body []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Validation("Request body must be a JSON object")
	}

	var invalid []string
	for key, value := range raw {
		if cfg.IsMetadataKey(key) || strings.HasPrefix(key, "_") {
			continue
		}
		if problem := validateEntry(key, value); problem != "" {
			invalid = append(invalid, problem)
		}
	}
	if len(invalid) > 0 {
		return nil, errors.Validation("Invalid configuration payload").
			WithDetails("problems", invalid)
	}
	return raw, nil
}

func validateEntry(key string, value json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		// Scalars are accepted as-is.
		return ""
	}
	if fields == nil {
		return ""
	}
	if _, ok := fields["value"]; !ok {
		// Objects without a value member are opaque scalars.
		return ""
	}
	if _, ok := fields["description"]; !ok {
		return fmt.Sprintf("parameter %q is missing a description", key)
	}
	if overrides, ok := fields["countryValues"]; ok {
		var byCountry map[string]json.RawMessage
		if err := json.Unmarshal(overrides, &byCountry); err != nil {
			return fmt.Sprintf("parameter %q has malformed countryValues", key)
		}
		for code := range byCountry {
			if len(code) != 2 || code != strings.ToUpper(code) {
				return fmt.Sprintf("parameter %q has invalid country code %q", key, code)
			}
		}
	}
	return ""
}
