package prefs

import (
	"fmt"
	"math"
	"sort"

	"quasar_backend/models"
)

// Field type names used by the schema registry
const (
	TypeString = "string"
	TypeInt    = "int"
)

// Dotted field paths accepted by the registry
const (
	FieldQuoteCurrency    = "crypto.preferred_quote_currency"
	FieldDelayHours       = "scheduling.delay_hours"
	FieldPreCloseSeconds  = "scheduling.pre_close_seconds"
	FieldPostCloseSeconds = "scheduling.post_close_seconds"
	FieldLookbackDays     = "data.lookback_days"
)

// FieldSchema describes one allowed preference field: its primitive type,
// default value and, for ints, inclusive bounds.
type FieldSchema struct {
	Type     string      `json:"type"`
	Default  interface{} `json:"default"`
	Min      int         `json:"min,omitempty"`
	Max      int         `json:"max,omitempty"`
	Nullable bool        `json:"nullable,omitempty"`
}

// ValidationError names the offending dotted field path and the violated
// constraint. User-correctable, never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid preference %q: %s", e.Field, e.Reason)
}

// sharedFields are legal for every provider kind
var sharedFields = map[string]FieldSchema{
	FieldQuoteCurrency: {Type: TypeString, Default: nil, Nullable: true},
}

// kindFields extends the shared set per provider kind. Schema composition
// replaces the original inheritance-based declaration: there is exactly one
// lookup table per kind and no dispatch.
var kindFields = map[models.ProviderKind]map[string]FieldSchema{
	models.KindHistorical: {
		FieldDelayHours:   {Type: TypeInt, Default: 0, Min: 0, Max: 24},
		FieldLookbackDays: {Type: TypeInt, Default: models.DefaultLookbackDays, Min: 1, Max: 8000},
	},
	models.KindLive: {
		FieldPreCloseSeconds:  {Type: TypeInt, Default: 0, Min: 0, Max: 300},
		FieldPostCloseSeconds: {Type: TypeInt, Default: 0, Min: 0, Max: 60},
	},
	// Index providers only carry the shared fields
	models.KindIndexProvider: {},
	models.KindUserIndex:     {},
}

// SchemaFor returns the full field schema for a provider kind. Unknown
// kinds fall back to the shared-only schema.
func SchemaFor(kind models.ProviderKind) map[string]FieldSchema {
	schema := make(map[string]FieldSchema, len(sharedFields)+4)
	for path, fs := range sharedFields {
		schema[path] = fs
	}
	for path, fs := range kindFields[kind] {
		schema[path] = fs
	}
	return schema
}

// FieldPaths returns the sorted dotted paths declared for a kind
func FieldPaths(kind models.ProviderKind) []string {
	schema := SchemaFor(kind)
	paths := make([]string, 0, len(schema))
	for p := range schema {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Validate checks a proposed partial update against the schema for kind.
// Input is the nested category map as decoded from JSON; output maps
// dotted paths to their typed values. Fields not declared for the kind,
// wrong primitive types and out-of-range numbers are all rejected with the
// offending path named.
func Validate(kind models.ProviderKind, proposed map[string]interface{}) (map[string]interface{}, error) {
	schema := SchemaFor(kind)
	validated := make(map[string]interface{})

	for category, raw := range proposed {
		nested, ok := raw.(map[string]interface{})
		if !ok {
			return nil, &ValidationError{Field: category, Reason: "expected an object of fields"}
		}
		for field, value := range nested {
			path := category + "." + field
			fs, declared := schema[path]
			if !declared {
				return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("not a valid field for kind %q", kind)}
			}

			typed, err := coerce(path, fs, value)
			if err != nil {
				return nil, err
			}
			validated[path] = typed
		}
	}

	return validated, nil
}

// coerce checks the primitive type and bounds of a single value
func coerce(path string, fs FieldSchema, value interface{}) (interface{}, error) {
	if value == nil {
		if fs.Nullable {
			return nil, nil
		}
		return nil, &ValidationError{Field: path, Reason: "null is not allowed"}
	}

	switch fs.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
		return s, nil

	case TypeInt:
		var n int
		switch v := value.(type) {
		case int:
			n = v
		case float64:
			// JSON numbers decode as float64
			if v != math.Trunc(v) {
				return nil, &ValidationError{Field: path, Reason: "expected integer, got fractional number"}
			}
			n = int(v)
		default:
			return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("expected integer, got %T", value)}
		}
		if n < fs.Min || n > fs.Max {
			return nil, &ValidationError{
				Field:  path,
				Reason: fmt.Sprintf("value %d out of range [%d, %d]", n, fs.Min, fs.Max),
			}
		}
		return n, nil
	}

	return nil, &ValidationError{Field: path, Reason: fmt.Sprintf("unknown schema type %q", fs.Type)}
}

// Resolve fills schema defaults into a sparse blob for every field the kind
// declares, leaving explicit overrides untouched. Nullable string defaults
// stay nil pointers.
func Resolve(kind models.ProviderKind, blob models.PreferenceBlob) models.PreferenceBlob {
	schema := SchemaFor(kind)
	for path, fs := range schema {
		if fs.Default == nil {
			continue
		}
		if hasField(blob, path) {
			continue
		}
		applyField(&blob, path, fs.Default)
	}
	return blob
}

// hasField reports whether the sparse blob carries an explicit value at path
func hasField(blob models.PreferenceBlob, path string) bool {
	switch path {
	case FieldQuoteCurrency:
		return blob.Crypto != nil && blob.Crypto.PreferredQuoteCurrency != nil
	case FieldDelayHours:
		return blob.Scheduling != nil && blob.Scheduling.DelayHours != nil
	case FieldPreCloseSeconds:
		return blob.Scheduling != nil && blob.Scheduling.PreCloseSeconds != nil
	case FieldPostCloseSeconds:
		return blob.Scheduling != nil && blob.Scheduling.PostCloseSeconds != nil
	case FieldLookbackDays:
		return blob.Data != nil && blob.Data.LookbackDays != nil
	}
	return false
}

// applyField writes one validated value into the blob. Only declared paths
// reach this point; a nil value clears the override back to its default.
func applyField(blob *models.PreferenceBlob, path string, value interface{}) {
	switch path {
	case FieldQuoteCurrency:
		if blob.Crypto == nil {
			blob.Crypto = &models.CryptoPreferences{}
		}
		if value == nil {
			blob.Crypto.PreferredQuoteCurrency = nil
			return
		}
		s := value.(string)
		blob.Crypto.PreferredQuoteCurrency = &s

	case FieldDelayHours:
		ensureScheduling(blob)
		n := value.(int)
		blob.Scheduling.DelayHours = &n

	case FieldPreCloseSeconds:
		ensureScheduling(blob)
		n := value.(int)
		blob.Scheduling.PreCloseSeconds = &n

	case FieldPostCloseSeconds:
		ensureScheduling(blob)
		n := value.(int)
		blob.Scheduling.PostCloseSeconds = &n

	case FieldLookbackDays:
		if blob.Data == nil {
			blob.Data = &models.DataPreferences{}
		}
		n := value.(int)
		blob.Data.LookbackDays = &n
	}
}

func ensureScheduling(blob *models.PreferenceBlob) {
	if blob.Scheduling == nil {
		blob.Scheduling = &models.SchedulingPreferences{}
	}
}
