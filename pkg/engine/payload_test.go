package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type staticHook struct {
	out map[string]any
	err error
}

func (h staticHook) Generate(ctx context.Context, input map[string]any) (map[string]any, error) {
	return h.out, h.err
}

func TestBuildCustomJSON(t *testing.T) {
	payload, err := BuildCustomJSON(context.Background(), "demo", "feature-x", "", nil)
	if err != nil {
		t.Fatalf("BuildCustomJSON() error = %v", err)
	}
	encoded, err := EncodeCustomJSON(payload)
	if err != nil {
		t.Fatalf("EncodeCustomJSON() error = %v", err)
	}
	want := `{"deploy":{"demo":{"scm":{"revision":"feature-x"}}}}`
	if encoded != want {
		t.Errorf("Expected %s, got %s", want, encoded)
	}
}

func TestBuildCustomJSON_MergeOrder(t *testing.T) {
	hook := staticHook{out: map[string]any{"env": "from-hook", "cache": "warm"}}
	operator := `{"env": "from-operator", "deploy": {"other": {}}}`

	payload, err := BuildCustomJSON(context.Background(), "demo", "main", operator, hook)
	if err != nil {
		t.Fatalf("BuildCustomJSON() error = %v", err)
	}

	if payload["env"] != "from-operator" {
		t.Errorf("Expected operator json to win, got %v", payload["env"])
	}
	if payload["cache"] != "warm" {
		t.Errorf("Expected hook output to be kept, got %v", payload["cache"])
	}
	deploy, _ := json.Marshal(payload["deploy"])
	if string(deploy) != `{"other":{}}` {
		t.Errorf("Expected shallow merge to replace deploy, got %s", deploy)
	}
}

func TestBuildCustomJSON_Errors(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		hook     CustomJSONHook
	}{
		{"malformed", `{"a":`, nil},
		{"not an object", `[1, 2]`, nil},
		{"hook failure", "", staticHook{err: errors.New("script error")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildCustomJSON(context.Background(), "demo", "main", tt.operator, tt.hook)
			if !IsKind(err, KindPayload) {
				t.Errorf("Expected payload error, got %v", err)
			}
		})
	}
}

func TestParseCustomJSON_Empty(t *testing.T) {
	out, err := ParseCustomJSON("   ")
	if err != nil || out != nil {
		t.Errorf("Expected nil payload for blank input, got %v, %v", out, err)
	}
}
