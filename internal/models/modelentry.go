package models

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ModelEntry is the canonical record for one model offered by the target
// site, parsed from its model-list network response.
type ModelEntry struct {
	ID                       string  `json:"id"`
	DisplayName              string  `json:"display_name"`
	Description              string  `json:"description"`
	RawModelPath             string  `json:"raw_model_path"`
	DefaultTemperature       float64 `json:"default_temperature"`
	DefaultMaxOutputTokens   int     `json:"default_max_output_tokens"`
	SupportedMaxOutputTokens int     `json:"supported_max_output_tokens"`
	DefaultTopP              float64 `json:"default_top_p"`
}

// Positional indices for the array-shaped model-list entries the site emits.
const (
	posModelPath  = 0
	posDisplay    = 3
	posDesc       = 4
	posMaxOutput  = 6
	posTemp       = 8
	posTopP       = 9
)

// ParseModelList parses the heterogeneous model-list payload. The upstream
// endpoint has shipped three shapes over time: a bare array of positional
// arrays, an array of objects, and an object with a "models" key wrapping
// either. Each element is sniffed once and dispatched to a shape-specific
// extractor; unrecognized shapes are skipped with a log line, never a crash.
func ParseModelList(raw []byte) ([]ModelEntry, error) {
	var root json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("model list is not valid JSON: %w", err)
	}

	elems, err := modelListElements(root)
	if err != nil {
		return nil, err
	}

	entries := make([]ModelEntry, 0, len(elems))
	for i, el := range elems {
		entry, ok := parseModelElement(el)
		if !ok {
			slog.Warn("Skipping unrecognized model-list element", "index", i)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func modelListElements(root json.RawMessage) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(root))
	if strings.HasPrefix(trimmed, "[") {
		var elems []json.RawMessage
		if err := json.Unmarshal(root, &elems); err != nil {
			return nil, fmt.Errorf("model list array: %w", err)
		}
		return elems, nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(root, &wrapper); err != nil {
		return nil, fmt.Errorf("model list wrapper: %w", err)
	}
	for _, key := range []string{"models", "data"} {
		if inner, ok := wrapper[key]; ok {
			return modelListElements(inner)
		}
	}
	return nil, fmt.Errorf("model list wrapper has no models key")
}

func parseModelElement(el json.RawMessage) (ModelEntry, bool) {
	trimmed := strings.TrimSpace(string(el))
	switch {
	case strings.HasPrefix(trimmed, "["):
		return parsePositionalModel(el)
	case strings.HasPrefix(trimmed, "{"):
		return parseObjectModel(el)
	default:
		return ModelEntry{}, false
	}
}

// parsePositionalModel handles the array shape, where fields live at fixed
// indices and trailing fields may be absent.
func parsePositionalModel(el json.RawMessage) (ModelEntry, bool) {
	var fields []any
	if err := json.Unmarshal(el, &fields); err != nil {
		return ModelEntry{}, false
	}
	path := stringAt(fields, posModelPath)
	if path == "" {
		return ModelEntry{}, false
	}
	entry := ModelEntry{
		ID:                       ModelIDFromPath(path),
		RawModelPath:             path,
		DisplayName:              stringAt(fields, posDisplay),
		Description:              stringAt(fields, posDesc),
		SupportedMaxOutputTokens: intAt(fields, posMaxOutput),
		DefaultTemperature:       floatAt(fields, posTemp),
		DefaultTopP:              floatAt(fields, posTopP),
	}
	entry.DefaultMaxOutputTokens = entry.SupportedMaxOutputTokens
	if entry.DisplayName == "" {
		entry.DisplayName = entry.ID
	}
	return entry, true
}

// parseObjectModel handles the keyed shape, including one level of nesting
// under "model" or "modelInfo".
func parseObjectModel(el json.RawMessage) (ModelEntry, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(el, &obj); err != nil {
		return ModelEntry{}, false
	}
	for _, key := range []string{"model", "modelInfo"} {
		if inner, ok := obj[key]; ok && strings.HasPrefix(strings.TrimSpace(string(inner)), "{") {
			return parseObjectModel(inner)
		}
	}
	path := stringField(obj, "name", "path", "id")
	if path == "" {
		return ModelEntry{}, false
	}
	entry := ModelEntry{
		ID:                       ModelIDFromPath(path),
		RawModelPath:             path,
		DisplayName:              stringField(obj, "displayName", "display_name"),
		Description:              stringField(obj, "description"),
		SupportedMaxOutputTokens: intField(obj, "outputTokenLimit", "supportedMaxOutputTokens"),
		DefaultTemperature:       floatField(obj, "temperature", "defaultTemperature"),
		DefaultTopP:              floatField(obj, "topP", "defaultTopP"),
	}
	if v := intField(obj, "maxTemperature"); v != 0 && entry.DefaultTemperature > float64(v) {
		entry.DefaultTemperature = float64(v)
	}
	entry.DefaultMaxOutputTokens = entry.SupportedMaxOutputTokens
	if entry.DisplayName == "" {
		entry.DisplayName = entry.ID
	}
	return entry, true
}

// ModelIDFromPath strips the "models/" prefix off a raw model path.
func ModelIDFromPath(path string) string {
	return strings.TrimPrefix(path, "models/")
}

// ModelPathFromID is the inverse of ModelIDFromPath.
func ModelPathFromID(id string) string {
	if strings.HasPrefix(id, "models/") {
		return id
	}
	return "models/" + id
}

func stringAt(fields []any, i int) string {
	if i >= len(fields) {
		return ""
	}
	s, _ := fields[i].(string)
	return s
}

func intAt(fields []any, i int) int {
	if i >= len(fields) {
		return 0
	}
	f, _ := fields[i].(float64)
	return int(f)
}

func floatAt(fields []any, i int) float64 {
	if i >= len(fields) {
		return 0
	}
	f, _ := fields[i].(float64)
	return f
}

func stringField(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

func intField(obj map[string]json.RawMessage, keys ...string) int {
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			var f float64
			if json.Unmarshal(raw, &f) == nil {
				return int(f)
			}
		}
	}
	return 0
}

func floatField(obj map[string]json.RawMessage, keys ...string) float64 {
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			var f float64
			if json.Unmarshal(raw, &f) == nil {
				return f
			}
		}
	}
	return 0
}
