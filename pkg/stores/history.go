package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// History records invocations and their lifecycle events.
type History struct {
	store Store
}

// NewHistory creates a history recorder backed by store.
func NewHistory(store Store) *History {
	return &History{store: store}
}

// Begin records a running invocation.
func (h *History) Begin(ctx context.Context, run *Run) error {
	run.Status = RunStatusRunning
	return h.store.CreateRun(ctx, run)
}

// Finish records the outcome of an invocation.
func (h *History) Finish(ctx context.Context, runID, hostname string, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	return h.store.CompleteRun(ctx, runID, RunStatusFor(runErr), hostname, errMsg)
}

// AppendEvent stores a lifecycle event of runID. Data is stored as JSON.
func (h *History) AppendEvent(ctx context.Context, runID, eventType, message string, data map[string]any) error {
	event := &Event{
		Type:    eventType,
		Level:   levelFor(eventType, data),
		Message: message,
	}
	if runID != "" {
		event.RunID = &runID
	}
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		details := string(raw)
		event.Details = &details
	}
	return h.store.AppendEvent(ctx, event)
}

// Audit records a mutating action.
func (h *History) Audit(ctx context.Context, action, actor, targetID string, details map[string]any) error {
	entry := &AuditEntry{Action: action, Actor: actor}
	if targetID != "" {
		entry.TargetID = &targetID
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		s := string(raw)
		entry.Details = &s
	}
	return h.store.CreateAuditEntry(ctx, entry)
}

// Runs lists recent runs with their events.
func (h *History) Runs(ctx context.Context, limit int) ([]*Run, map[string][]*Event, error) {
	runs, err := h.store.ListRuns(ctx, limit, 0)
	if err != nil {
		return nil, nil, err
	}
	events := make(map[string][]*Event, len(runs))
	var errs []error
	for _, run := range runs {
		id := run.ID
		list, err := h.store.GetEvents(ctx, &id, nil, 1000, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events[id] = list
	}
	return runs, events, errors.Join(errs...)
}

func levelFor(eventType string, data map[string]any) EventLevel {
	if status, ok := data["status"].(string); ok && strings.Contains(status, "fail") {
		return EventLevelError
	}
	if strings.HasSuffix(eventType, ".skipped") {
		return EventLevelWarning
	}
	return EventLevelInfo
}
