package middleware

import (
	"strings"
	"testing"
)

func TestValidateMessageContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "is this still available?", false},
		{"empty", "", true},
		{"at limit", strings.Repeat("a", 100000), false},
		{"over limit", strings.Repeat("a", 100001), true},
		{"invalid utf8", string([]byte{0xff, 0xfe}), true},
		{"unicode", "你好 👋", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMessageContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessageContent(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		identity string
		wantErr  bool
	}{
		{"valid", "seller_42", false},
		{"empty", "", true},
		{"over limit", strings.Repeat("a", 129), true},
		{"invalid utf8", string([]byte{0xff}), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateIdentity(tt.identity)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateIdentity(%q) error = %v, wantErr %v", tt.identity, err, tt.wantErr)
			}
		})
	}
}

func TestValidateConversationID(t *testing.T) {
	t.Parallel()

	if err := ValidateConversationID("conv-123"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	if err := ValidateConversationID(""); err == nil {
		t.Fatal("empty id accepted")
	}
	if err := ValidateConversationID(strings.Repeat("c", 129)); err == nil {
		t.Fatal("oversized id accepted")
	}
}
