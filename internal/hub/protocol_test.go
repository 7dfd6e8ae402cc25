package hub

import (
	"testing"

	"github.com/agent-collab/backend/internal/session"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		want      Priority
	}{
		{session.TypeApproval, PriorityCritical},
		{session.TypeRunError, PriorityCritical},
		{session.TypeRunStop, PriorityCritical},
		{session.TypeRunEvent, PriorityNormal},
		{session.TypeTaskUpdate, PriorityNormal},
		{session.TypeSnapshot, PriorityPassive},
		{"chat.message", PriorityPassive},
		{"", PriorityPassive},
	}

	for _, tt := range tests {
		if got := Classify(tt.eventType); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

func TestDeliveryAction(t *testing.T) {
	tests := []struct {
		priority  Priority
		queueFull bool
		want      Action
	}{
		{PriorityCritical, false, ActionEnqueue},
		{PriorityNormal, false, ActionEnqueue},
		{PriorityPassive, false, ActionEnqueue},
		{PriorityCritical, true, ActionBlock},
		{PriorityNormal, true, ActionDrop},
		{PriorityPassive, true, ActionDrop},
	}

	for _, tt := range tests {
		if got := DeliveryAction(tt.priority, tt.queueFull); got != tt.want {
			t.Errorf("DeliveryAction(%v, full=%v) = %v, want %v",
				tt.priority, tt.queueFull, got, tt.want)
		}
	}
}

func TestPriorityString(t *testing.T) {
	tests := map[Priority]string{
		PriorityCritical: "critical",
		PriorityNormal:   "normal",
		PriorityPassive:  "passive",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", p, got, want)
		}
	}
}
