package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessageRegister(t *testing.T) {
	raw := []byte(`{"type":"register","user_id":"u-1","display_name":"Sam"}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeRegister {
		t.Errorf("expected type %q, got %q", TypeRegister, msgType)
	}

	m, ok := msg.(RegisterMsg)
	if !ok {
		t.Fatalf("expected RegisterMsg, got %T", msg)
	}
	if m.UserID != "u-1" || m.DisplayName != "Sam" {
		t.Errorf("unexpected fields: %+v", m)
	}
}

func TestParseClientMessageQueueSearch(t *testing.T) {
	raw := []byte(`{"type":"queue.search","mode":"video","preferences":{"language":"en","interests":["music","games"]}}`)

	msgType, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeQueueSearch {
		t.Errorf("expected type %q, got %q", TypeQueueSearch, msgType)
	}

	m := msg.(QueueSearchMsg)
	if m.Mode != ModeVideo {
		t.Errorf("expected mode video, got %q", m.Mode)
	}
	if m.Preferences.Language != "en" || len(m.Preferences.Interests) != 2 {
		t.Errorf("unexpected preferences: %+v", m.Preferences)
	}
}

func TestParseClientMessageSignalKeepsPayloadVerbatim(t *testing.T) {
	raw := []byte(`{"type":"session.signal","session_id":"s-1","kind":"offer","payload":{"sdp":"v=0","custom":[1,2,3]}}`)

	_, msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := msg.(SignalMsg)
	if m.Kind != SignalOffer {
		t.Errorf("expected kind offer, got %q", m.Kind)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		t.Fatalf("payload not preserved: %v", err)
	}
	if payload["sdp"] != "v=0" {
		t.Errorf("payload mutated: %v", payload)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"missing type", `{"mode":"text"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"bogus"}`},
		{"server-only type", `{"type":"registered"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseClientMessage([]byte(tc.raw)); err == nil {
				t.Errorf("expected error for %s", tc.raw)
			}
		})
	}
}

func TestNewServerMessageInjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeQueueMatched, QueueMatchedMsg{
		SessionID: "s-1",
		Mode:      ModeText,
		PartnerID: "anon-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeQueueMatched {
		t.Errorf("expected type %q, got %v", TypeQueueMatched, m["type"])
	}
	if m["session_id"] != "s-1" {
		t.Errorf("expected session_id s-1, got %v", m["session_id"])
	}
}

func TestValidMode(t *testing.T) {
	for _, mode := range Modes {
		if !ValidMode(mode) {
			t.Errorf("expected %q to be valid", mode)
		}
	}
	if ValidMode("carrier-pigeon") || ValidMode("") {
		t.Error("unexpected mode accepted")
	}
}

func TestValidSignalKind(t *testing.T) {
	for _, kind := range []string{SignalOffer, SignalAnswer, SignalICECandidate} {
		if !ValidSignalKind(kind) {
			t.Errorf("expected %q to be valid", kind)
		}
	}
	if ValidSignalKind("renegotiate") {
		t.Error("unexpected signal kind accepted")
	}
}
