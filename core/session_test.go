package core

import (
	"testing"
	"time"
)

func TestSession_StatusTransitions(t *testing.T) {
	s := NewSession("t", "")
	if s.Status != SessionActive {
		t.Fatalf("new session should be active, got %s", s.Status)
	}
	if !s.CanTransition(SessionInactive) || !s.CanTransition(SessionArchived) {
		t.Error("active should allow inactive and archived")
	}
	s.Status = SessionInactive
	if !s.CanTransition(SessionActive) {
		t.Error("inactive should allow re-entry to active")
	}
	if !s.CanTransition(SessionArchived) {
		t.Error("inactive should allow archived")
	}
	s.Status = SessionArchived
	for _, next := range []SessionStatus{SessionActive, SessionInactive, SessionArchived} {
		if s.CanTransition(next) {
			t.Errorf("archived is terminal, transition to %s allowed", next)
		}
	}
}

func TestSession_TouchAndClone(t *testing.T) {
	s := NewSession("t", "u1")
	before := s.LastActivity
	time.Sleep(time.Millisecond)
	s.Touch()
	if !s.LastActivity.After(before) {
		t.Error("Touch should advance LastActivity")
	}
	clone := s.Clone()
	if clone == s {
		t.Error("Clone should return a different pointer")
	}
	clone.Title = "changed"
	if s.Title == "changed" {
		t.Error("clone mutation should not affect original")
	}
}

func TestMessage_Clone(t *testing.T) {
	m := NewMessage("s1", RoleAssistant, "hello")
	m.Metadata = map[string]string{"k": "v"}
	m.Usage = &TokenUsage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}

	clone := m.Clone()
	clone.Metadata["k"] = "changed"
	clone.Usage.TotalTokens = 0
	if m.Metadata["k"] != "v" || m.Usage.TotalTokens != 8 {
		t.Errorf("clone should deep copy metadata and usage: %+v", m)
	}
}
