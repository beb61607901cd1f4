// Package config defines the canonical configuration document model: named
// parameters with descriptions and per-country overrides, plus the write
// metadata used as the optimistic-concurrency token.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Reserved top-level metadata keys of the canonical document.
const (
	KeyLastModified        = "lastModified"
	KeyLastModifiedBy      = "lastModifiedBy"
	KeyLastModifiedByEmail = "lastModifiedByEmail"
)

// IsMetadataKey reports whether key is one of the reserved metadata keys.
func IsMetadataKey(key string) bool {
	switch key {
	case KeyLastModified, KeyLastModifiedBy, KeyLastModifiedByEmail:
		return true
	}
	return false
}

// IsHiddenKey reports whether key must be excluded from the mobile view:
// reserved metadata keys and underscore-prefixed keys.
func IsHiddenKey(key string) bool {
	return strings.HasPrefix(key, "_") || IsMetadataKey(key)
}

// Parameter is one named setting: a global value, its documentation, the
// creation timestamp (unix milliseconds) and optional per-country overrides
// keyed by 2-letter uppercase country code.
type Parameter struct {
	Value         interface{}
	Description   string
	CreateDate    int64
	CountryValues map[string]interface{}
}

type parameterWire struct {
	Value         interface{}            `json:"value"`
	Description   string                 `json:"description"`
	CreateDate    int64                  `json:"createDate,omitempty"`
	CountryValues map[string]interface{} `json:"countryValues"`
}

// MarshalJSON always emits countryValues, as an empty object when there are
// no overrides, matching the stored document shape.
func (p Parameter) MarshalJSON() ([]byte, error) {
	cv := p.CountryValues
	if cv == nil {
		cv = map[string]interface{}{}
	}
	return json.Marshal(parameterWire{
		Value:         p.Value,
		Description:   p.Description,
		CreateDate:    p.CreateDate,
		CountryValues: cv,
	})
}

// UnmarshalJSON decodes a parameter object, normalising a missing
// countryValues map to empty.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	var w parameterWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Value = w.Value
	p.Description = w.Description
	p.CreateDate = w.CreateDate
	p.CountryValues = w.CountryValues
	if p.CountryValues == nil {
		p.CountryValues = map[string]interface{}{}
	}
	return nil
}

// Entry is one top-level document entry. The shape is decided once at
// deserialization: an object carrying a "value" member is a Parameter,
// anything else is an opaque passthrough scalar.
type Entry struct {
	Param  *Parameter
	Scalar interface{}
}

// ParameterEntry builds a parameter-shaped entry.
func ParameterEntry(p Parameter) Entry {
	return Entry{Param: &p}
}

// ScalarEntry builds a passthrough entry.
func ScalarEntry(v interface{}) Entry {
	return Entry{Scalar: v}
}

// IsParameter reports whether the entry is parameter-shaped.
func (e Entry) IsParameter() bool {
	return e.Param != nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Param != nil {
		return json.Marshal(e.Param)
	}
	return json.Marshal(e.Scalar)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if _, ok := probe["value"]; ok {
			var p Parameter
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			e.Param = &p
			e.Scalar = nil
			return nil
		}
	}
	e.Param = nil
	return json.Unmarshal(data, &e.Scalar)
}

// Document is the single persisted configuration aggregate: parameter
// entries plus the write metadata. LastModified is the concurrency token;
// zero values mean the metadata has never been set.
type Document struct {
	Entries             map[string]Entry
	LastModified        int64
	LastModifiedBy      string
	LastModifiedByEmail string
}

// NewDocument creates an empty document.
func NewDocument() Document {
	return Document{Entries: make(map[string]Entry)}
}

// MarshalJSON flattens entries and metadata into a single JSON object,
// reproducing the stored wire shape. Metadata fields are omitted while
// unset so a freshly seeded document carries no bogus token.
func (d Document) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(d.Entries))
	for k := range d.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	writeField := func(key string, value interface{}) error {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		kb, err := json.Marshal(key)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}

	for _, k := range keys {
		if err := writeField(k, d.Entries[k]); err != nil {
			return nil, err
		}
	}
	if d.LastModified != 0 {
		if err := writeField(KeyLastModified, d.LastModified); err != nil {
			return nil, err
		}
	}
	if d.LastModifiedBy != "" {
		if err := writeField(KeyLastModifiedBy, d.LastModifiedBy); err != nil {
			return nil, err
		}
	}
	if d.LastModifiedByEmail != "" {
		if err := writeField(KeyLastModifiedByEmail, d.LastModifiedByEmail); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON splits the flat object back into entries and metadata.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Entries = make(map[string]Entry, len(raw))
	d.LastModified = 0
	d.LastModifiedBy = ""
	d.LastModifiedByEmail = ""

	for key, value := range raw {
		switch key {
		case KeyLastModified:
			if err := json.Unmarshal(value, &d.LastModified); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case KeyLastModifiedBy:
			if err := json.Unmarshal(value, &d.LastModifiedBy); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		case KeyLastModifiedByEmail:
			if err := json.Unmarshal(value, &d.LastModifiedByEmail); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		default:
			var entry Entry
			if err := json.Unmarshal(value, &entry); err != nil {
				return fmt.Errorf("decode entry %s: %w", key, err)
			}
			d.Entries[key] = entry
		}
	}
	return nil
}

// Clone returns a deep copy so cached documents cannot be mutated through
// values handed to callers.
func (d Document) Clone() Document {
	out := Document{
		Entries:             make(map[string]Entry, len(d.Entries)),
		LastModified:        d.LastModified,
		LastModifiedBy:      d.LastModifiedBy,
		LastModifiedByEmail: d.LastModifiedByEmail,
	}
	for k, e := range d.Entries {
		out.Entries[k] = e.clone()
	}
	return out
}

func (e Entry) clone() Entry {
	if e.Param == nil {
		return Entry{Scalar: deepCopyValue(e.Scalar)}
	}
	p := Parameter{
		Value:         deepCopyValue(e.Param.Value),
		Description:   e.Param.Description,
		CreateDate:    e.Param.CreateDate,
		CountryValues: make(map[string]interface{}, len(e.Param.CountryValues)),
	}
	for c, v := range e.Param.CountryValues {
		p.CountryValues[c] = deepCopyValue(v)
	}
	return Entry{Param: &p}
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = deepCopyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// Default returns the seed document created on first-ever access, with
// createDate set to now (unix milliseconds) on every parameter.
func Default(now int64) Document {
	seed := []struct {
		name        string
		value       interface{}
		description string
	}{
		{"freeUsageLimit", float64(5), "Maximum free usage allowed"},
		{"supportEmail", "support@codeway.co", "Support contact email"},
		{"privacyPage", "https://codeway.com/privacy_en.html", "Privacy policy page URL"},
		{"minimumVersion", "1.0", "Minimum required version of the app"},
		{"latestVersion", "2.1", "Latest version of the app"},
		{"compressionQuality", 0.7, "Image compression quality"},
		{"btnText", "Try now!", "Button text for call to action"},
	}

	doc := NewDocument()
	for _, s := range seed {
		doc.Entries[s.name] = ParameterEntry(Parameter{
			Value:         s.value,
			Description:   s.description,
			CreateDate:    now,
			CountryValues: map[string]interface{}{},
		})
	}
	return doc
}
