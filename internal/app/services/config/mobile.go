package config

import (
	cfg "github.com/codeway/config-service/internal/app/domain/config"
)

// MobileView projects the canonical document into the flat name-to-value
// mapping served to mobile clients. Metadata and underscore-prefixed keys
// are stripped; parameter entries resolve the country override when one
// exists for the given country code, falling back to the global value;
// anything else passes through unchanged. Country codes are expected
// uppercase, normalised at the request boundary. Pure: the input document
// is not mutated.
func MobileView(doc cfg.Document, country string) map[string]interface{} {
	mobile := make(map[string]interface{}, len(doc.Entries))
	for key, entry := range doc.Entries {
		if cfg.IsHiddenKey(key) {
			continue
		}
		if entry.IsParameter() {
			if country != "" {
				if override, ok := entry.Param.CountryValues[country]; ok {
					mobile[key] = override
					continue
				}
			}
			mobile[key] = entry.Param.Value
			continue
		}
		mobile[key] = entry.Scalar
	}
	return mobile
}
