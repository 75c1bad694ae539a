package aiconfig

import (
	"encoding/json"
	"fmt"
	"sort"
)

// AIConfig is the process-wide tunable pipeline configuration, backed by the
// pipeline_settings key/value table and merged over compiled-in defaults.
type AIConfig struct {
	AIVersion                     string     `json:"ai_version"`
	LLMModel                      string     `json:"llm_model"`
	ValidationConfidenceThreshold float64    `json:"validation_confidence_threshold"`
	Categories                    []string   `json:"categories"`
	RateLimits                    RateLimits `json:"rate_limits"`
	DisputeWindowHours            int        `json:"dispute_window_hours"`
	MaxRetries                    int        `json:"max_retries"`
	ProcessingDelayMs             int        `json:"processing_delay_ms"`
}

type RateLimits struct {
	ProposePerMinute   int `json:"propose_per_minute"`
	ProposePerHour     int `json:"propose_per_hour"`
	ProposePerDay      int `json:"propose_per_day"`
	DisputePerHour     int `json:"dispute_per_hour"`
	DisputePerDay      int `json:"dispute_per_day"`
	AutoPublishPerHour int `json:"auto_publish_per_hour"`
}

// AllowedModels is the fixed allow-list for llm_model.
var AllowedModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4.1",
	"gpt-4.1-mini",
	"o3-mini",
}

func Defaults() AIConfig {
	return AIConfig{
		AIVersion:                     "v1",
		LLMModel:                      "gpt-4o-mini",
		ValidationConfidenceThreshold: 0.85,
		Categories: []string{
			"politics",
			"sports",
			"crypto",
			"economics",
			"science",
			"entertainment",
			"weather",
		},
		RateLimits: RateLimits{
			ProposePerMinute:   2,
			ProposePerHour:     10,
			ProposePerDay:      30,
			DisputePerHour:     3,
			DisputePerDay:      10,
			AutoPublishPerHour: 5,
		},
		DisputeWindowHours: 48,
		MaxRetries:         3,
		ProcessingDelayMs:  1000,
	}
}

// ValidationError names the config field that failed a bound check.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// applyKey merges one stored key/value row into cfg. Unknown keys are
// ignored so stale rows fall back to defaults, never to a read error.
func applyKey(cfg *AIConfig, key string, raw []byte) {
	switch key {
	case "ai_version":
		var v string
		if json.Unmarshal(raw, &v) == nil && v != "" {
			cfg.AIVersion = v
		}
	case "llm_model":
		var v string
		if json.Unmarshal(raw, &v) == nil && v != "" {
			cfg.LLMModel = v
		}
	case "validation_confidence_threshold":
		var v float64
		if json.Unmarshal(raw, &v) == nil {
			cfg.ValidationConfidenceThreshold = v
		}
	case "categories":
		var v []string
		if json.Unmarshal(raw, &v) == nil && len(v) > 0 {
			cfg.Categories = v
		}
	case "rate_limits":
		v := cfg.RateLimits
		if json.Unmarshal(raw, &v) == nil {
			cfg.RateLimits = v
		}
	case "dispute_window_hours":
		var v int
		if json.Unmarshal(raw, &v) == nil && v > 0 {
			cfg.DisputeWindowHours = v
		}
	case "max_retries":
		var v int
		if json.Unmarshal(raw, &v) == nil && v >= 0 {
			cfg.MaxRetries = v
		}
	case "processing_delay_ms":
		var v int
		if json.Unmarshal(raw, &v) == nil && v >= 0 {
			cfg.ProcessingDelayMs = v
		}
	}
}

// ApplyOverrides validates every touched key against its declared bounds and
// applies the full set to cfg only if all pass, returning the sorted list of
// changed keys. Any violation rejects the whole update naming the field.
func ApplyOverrides(cfg *AIConfig, updates map[string]any) ([]string, error) {
	if cfg == nil || len(updates) == 0 {
		return nil, nil
	}
	next := *cfg
	changed := make([]string, 0, len(updates))
	for key, value := range updates {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, &ValidationError{Field: key, Msg: "not serializable"}
		}
		if err := validateKey(key, raw); err != nil {
			return nil, err
		}
		applyKey(&next, key, raw)
		changed = append(changed, key)
	}
	sort.Strings(changed)
	*cfg = next
	return changed, nil
}

func validateKey(key string, raw []byte) error {
	switch key {
	case "ai_version":
		var v string
		if json.Unmarshal(raw, &v) != nil || v == "" {
			return &ValidationError{Field: key, Msg: "must be a non-empty string"}
		}
	case "llm_model":
		var v string
		if json.Unmarshal(raw, &v) != nil {
			return &ValidationError{Field: key, Msg: "must be a string"}
		}
		for _, allowed := range AllowedModels {
			if v == allowed {
				return nil
			}
		}
		return &ValidationError{Field: key, Msg: "not in the allowed model list"}
	case "validation_confidence_threshold":
		var v float64
		if json.Unmarshal(raw, &v) != nil || v < 0 || v > 1 {
			return &ValidationError{Field: key, Msg: "must be within [0,1]"}
		}
	case "categories":
		var v []string
		if json.Unmarshal(raw, &v) != nil || len(v) == 0 {
			return &ValidationError{Field: key, Msg: "must be a non-empty string array"}
		}
	case "rate_limits":
		var v RateLimits
		if json.Unmarshal(raw, &v) != nil {
			return &ValidationError{Field: key, Msg: "must be a rate-limit object"}
		}
		if v.ProposePerMinute < 0 || v.ProposePerHour < 0 || v.ProposePerDay < 0 ||
			v.DisputePerHour < 0 || v.DisputePerDay < 0 || v.AutoPublishPerHour < 0 {
			return &ValidationError{Field: key, Msg: "limits must be non-negative"}
		}
	case "dispute_window_hours":
		var v int
		if json.Unmarshal(raw, &v) != nil || v < 1 || v > 168 {
			return &ValidationError{Field: key, Msg: "must be within [1,168]"}
		}
	case "max_retries":
		var v int
		if json.Unmarshal(raw, &v) != nil || v < 0 || v > 10 {
			return &ValidationError{Field: key, Msg: "must be within [0,10]"}
		}
	case "processing_delay_ms":
		var v int
		if json.Unmarshal(raw, &v) != nil || v < 0 || v > 600000 {
			return &ValidationError{Field: key, Msg: "must be within [0,600000]"}
		}
	default:
		return &ValidationError{Field: key, Msg: "unknown configuration key"}
	}
	return nil
}

// MarshalKeys serializes cfg back into flat key/value rows for persistence.
func MarshalKeys(cfg AIConfig, keys []string) (map[string][]byte, error) {
	full := map[string]any{
		"ai_version":                      cfg.AIVersion,
		"llm_model":                       cfg.LLMModel,
		"validation_confidence_threshold": cfg.ValidationConfidenceThreshold,
		"categories":                      cfg.Categories,
		"rate_limits":                     cfg.RateLimits,
		"dispute_window_hours":            cfg.DisputeWindowHours,
		"max_retries":                     cfg.MaxRetries,
		"processing_delay_ms":             cfg.ProcessingDelayMs,
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, ok := full[key]
		if !ok {
			return nil, &ValidationError{Field: key, Msg: "unknown configuration key"}
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		out[key] = raw
	}
	return out, nil
}
