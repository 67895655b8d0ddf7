package models

import (
	"testing"
)

func TestParseModelListPositional(t *testing.T) {
	raw := []byte(`[
		["models/gemini-2.5-pro", null, null, "Gemini 2.5 Pro", "Flagship model", null, 65536, null, 1.0, 0.95],
		["models/gemini-2.5-flash", null, null, "Gemini 2.5 Flash", "Fast model", null, 65536, null, 1.0, 0.95]
	]`)
	entries, err := ParseModelList(raw)
	if err != nil {
		t.Fatalf("ParseModelList: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != "gemini-2.5-pro" {
		t.Errorf("ID = %q", e.ID)
	}
	if e.RawModelPath != "models/gemini-2.5-pro" {
		t.Errorf("RawModelPath = %q", e.RawModelPath)
	}
	if e.DisplayName != "Gemini 2.5 Pro" || e.Description != "Flagship model" {
		t.Errorf("Display fields wrong: %q / %q", e.DisplayName, e.Description)
	}
	if e.SupportedMaxOutputTokens != 65536 || e.DefaultTemperature != 1.0 || e.DefaultTopP != 0.95 {
		t.Errorf("Numeric fields wrong: %+v", e)
	}
}

func TestParseModelListObjects(t *testing.T) {
	raw := []byte(`{"models":[
		{"name":"models/gemini-2.5-pro","displayName":"Gemini 2.5 Pro","outputTokenLimit":65536,"temperature":1,"topP":0.95},
		{"model":{"name":"models/nested","displayName":"Nested"}}
	]}`)
	entries, err := ParseModelList(raw)
	if err != nil {
		t.Fatalf("ParseModelList: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].SupportedMaxOutputTokens != 65536 {
		t.Errorf("outputTokenLimit not mapped: %+v", entries[0])
	}
	if entries[1].ID != "nested" || entries[1].DisplayName != "Nested" {
		t.Errorf("Nested object not unwrapped: %+v", entries[1])
	}
}

func TestParseModelListSkipsGarbageElements(t *testing.T) {
	raw := []byte(`[
		["models/good", null, null, "Good"],
		"just a string",
		42,
		[null, "no path"]
	]`)
	entries, err := ParseModelList(raw)
	if err != nil {
		t.Fatalf("ParseModelList: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "good" {
		t.Errorf("Expected only the valid entry, got %+v", entries)
	}
}

func TestParseModelListRejectsNonJSON(t *testing.T) {
	if _, err := ParseModelList([]byte("<html>")); err == nil {
		t.Error("Expected error for non-JSON payload")
	}
}

func TestModelPathRoundTrip(t *testing.T) {
	if ModelIDFromPath("models/gemini-2.5-pro") != "gemini-2.5-pro" {
		t.Error("ModelIDFromPath should strip the models/ prefix")
	}
	if ModelPathFromID("gemini-2.5-pro") != "models/gemini-2.5-pro" {
		t.Error("ModelPathFromID should add the models/ prefix")
	}
	if ModelPathFromID("models/already") != "models/already" {
		t.Error("ModelPathFromID should not double the prefix")
	}
}

func TestRegistryExclusion(t *testing.T) {
	reg := NewRegistry()
	reg.SetEntries([]ModelEntry{
		{ID: "keep", DisplayName: "Keep Me"},
		{ID: "hide", DisplayName: "Hide Me"},
	})
	reg.Exclude("hide")

	if _, ok := reg.Lookup("hide"); ok {
		t.Error("Excluded model should not resolve")
	}
	if _, ok := reg.Lookup("keep"); !ok {
		t.Error("Non-excluded model should resolve")
	}
	entries := reg.Entries()
	if len(entries) != 1 || entries[0].ID != "keep" {
		t.Errorf("Entries should be filtered: %+v", entries)
	}
}

func TestRegistryDisplayNameLookup(t *testing.T) {
	reg := NewRegistry()
	reg.SetEntries([]ModelEntry{{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"}})

	if e, ok := reg.LookupByDisplayName("gemini 2.5 pro"); !ok || e.ID != "gemini-2.5-pro" {
		t.Error("Lookup should be case-insensitive")
	}
	if e, ok := reg.LookupByDisplayName("  Gemini 2.5 Pro  "); !ok || e.ID != "gemini-2.5-pro" {
		t.Error("Lookup should trim whitespace")
	}
	if _, ok := reg.LookupByDisplayName(""); ok {
		t.Error("Empty name should never match")
	}
}

func TestRegistryDisplayNameLookupSkipsNamelessEntries(t *testing.T) {
	reg := NewRegistry()
	reg.SetEntries([]ModelEntry{
		{ID: "nameless"},
		{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro"},
	})

	if e, ok := reg.LookupByDisplayName("Totally Unrelated"); ok {
		t.Errorf("Entry without a display name matched %q: %+v", "Totally Unrelated", e)
	}
	if e, ok := reg.LookupByDisplayName("Gemini 2.5 Pro"); !ok || e.ID != "gemini-2.5-pro" {
		t.Error("Named entry should still resolve")
	}
}

func TestRegistryCurrent(t *testing.T) {
	reg := NewRegistry()
	if reg.Current() != "" {
		t.Error("Fresh registry should have no current model")
	}
	reg.SetCurrent("gemini-2.5-pro")
	if reg.Current() != "gemini-2.5-pro" {
		t.Error("SetCurrent not reflected")
	}
}
