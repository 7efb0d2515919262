package engine

import (
	"encoding/json"
	"slices"
	"testing"
	"time"
)

func TestManifest_OrderAndCopy(t *testing.T) {
	base := NewManifest("environment", "staging", "app_name", "demo")
	merged := base.Merge(NewManifest("app_name", "other", "hostname", "feature-x"))

	if !slices.Equal(merged.Keys(), []string{"environment", "app_name", "hostname"}) {
		t.Errorf("Unexpected key order %v", merged.Keys())
	}
	if v, _ := merged.Get("app_name"); v != "other" {
		t.Errorf("Expected app_name to be overridden, got %v", v)
	}
	if v, _ := base.Get("app_name"); v != "demo" {
		t.Errorf("Expected base manifest to be unchanged, got %v", v)
	}

	with := base.With("failed_at", "now")
	if len(base) != 2 || len(with) != 3 {
		t.Errorf("Expected With to copy, got base=%d with=%d", len(base), len(with))
	}
}

func TestManifest_MarshalJSON(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewManifest("hostname", []string{"a", "b"}, "completed", at, "migrate", true)

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `[{"title":"hostname","value":"a, b"},{"title":"completed","value":"2024-05-01T12:00:00Z"},{"title":"migrate","value":"true"}]`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}
