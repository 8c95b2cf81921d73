package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestActionValid(t *testing.T) {
	tests := []struct {
		action Action
		want   bool
	}{
		{ActionPress, true},
		{ActionHold, true},
		{ActionRelease, true},
		{ActionReleaseAfterHold, true},
		{Action("button_double_press"), false},
		{Action(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			if got := tt.action.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSwitchEventEquals(t *testing.T) {
	base := SwitchEvent{
		EntryID:     "entry-1",
		UnitID:      13,
		Button:      1,
		Action:      ActionPress,
		MessageType: 0x1c,
		Flags:       0x01,
		PayloadHex:  "0d0101",
	}

	tests := []struct {
		name   string
		modify func(e SwitchEvent) SwitchEvent
		want   bool
	}{
		{
			name:   "identical",
			modify: func(e SwitchEvent) SwitchEvent { return e },
			want:   true,
		},
		{
			name: "different timestamp still equal",
			modify: func(e SwitchEvent) SwitchEvent {
				e.Timestamp = time.Now().Add(time.Hour)
				return e
			},
			want: true,
		},
		{
			name: "different sequence still equal",
			modify: func(e SwitchEvent) SwitchEvent {
				e.PacketSequence = 99
				return e
			},
			want: true,
		},
		{
			name: "different unit",
			modify: func(e SwitchEvent) SwitchEvent {
				e.UnitID = 14
				return e
			},
			want: false,
		},
		{
			name: "different button",
			modify: func(e SwitchEvent) SwitchEvent {
				e.Button = 2
				return e
			},
			want: false,
		},
		{
			name: "different action",
			modify: func(e SwitchEvent) SwitchEvent {
				e.Action = ActionRelease
				return e
			},
			want: false,
		},
		{
			name: "different flags",
			modify: func(e SwitchEvent) SwitchEvent {
				e.Flags = 0x02
				return e
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := tt.modify(base)
			if got := base.Equals(other); got != tt.want {
				t.Errorf("Equals() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The JSON field names are the wire contract automations depend on.
func TestSwitchEventJSONContract(t *testing.T) {
	event := SwitchEvent{
		Timestamp:   time.Now(),
		EntryID:     "entry-1",
		UnitID:      13,
		Button:      1,
		Action:      ActionReleaseAfterHold,
		MessageType: 0x1c,
		Flags:       0x03,
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, field := range []string{"entry_id", "unit_id", "button", "action", "message_type", "flags"} {
		if _, ok := payload[field]; !ok {
			t.Errorf("payload missing field %q", field)
		}
	}

	if payload["action"] != "button_release_after_hold" {
		t.Errorf("action = %v, want button_release_after_hold", payload["action"])
	}
	if _, ok := payload["Timestamp"]; ok {
		t.Error("Timestamp must not be serialized")
	}
}
