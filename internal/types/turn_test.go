package types

import (
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"system", RoleSystem, false},
		{"user", RoleUser, false},
		{"assistant", RoleAssistant, false},
		{"narrator", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMessagesPreservesOrder(t *testing.T) {
	turns := []Turn{
		{Role: RoleSystem, Content: "prompt"},
		{Role: RoleAssistant, Content: "Once upon a time"},
		{Role: RoleUser, Content: "the knight rode on"},
	}
	msgs := Messages(turns)
	if len(msgs) != len(turns) {
		t.Fatalf("len = %d, want %d", len(msgs), len(turns))
	}
	for i := range turns {
		if msgs[i].Role != turns[i].Role || msgs[i].Content != turns[i].Content {
			t.Errorf("msgs[%d] = %+v, want role=%s content=%q", i, msgs[i], turns[i].Role, turns[i].Content)
		}
	}
}
