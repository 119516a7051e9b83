package models

import "testing"

func TestTurnConstructors(t *testing.T) {
	u := UserTurn("hola")
	if u.Role != RoleUser || u.Text != "hola" {
		t.Errorf("unexpected user turn: %+v", u)
	}
	a := AssistantTurn("buenas")
	if a.Role != RoleAssistant || a.Text != "buenas" {
		t.Errorf("unexpected assistant turn: %+v", a)
	}
}

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{Role("model"), false},
		{Role(""), false},
	}
	for _, tt := range tests {
		if got := IsValidRole(tt.role); got != tt.want {
			t.Errorf("IsValidRole(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestConnectionUpdateIsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		update ConnectionUpdate
		want   bool
	}{
		{"logged out", ConnectionUpdate{State: ConnectionClosed, ReasonCode: ReasonLoggedOut}, true},
		{"network drop", ConnectionUpdate{State: ConnectionClosed, ReasonCode: 428}, false},
		{"unknown reason", ConnectionUpdate{State: ConnectionClosed}, false},
		{"open", ConnectionUpdate{State: ConnectionOpen, ReasonCode: ReasonLoggedOut}, false},
		{"pairing", ConnectionUpdate{State: ConnectionPairing, PairingCode: "abc"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.update.IsTerminal(); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
