package uuid

import "testing"

// TestNew tests UUID v4 generation.
func TestNew(t *testing.T) {
	id := New()

	if !IsValid(id) {
		t.Errorf("New() produced invalid UUID v4: %s", id)
	}

	// Two generations must differ
	if New() == id {
		t.Error("Expected distinct UUIDs from consecutive calls")
	}
}

// TestNewTemp tests temp-id generation and detection.
func TestNewTemp(t *testing.T) {
	id := NewTemp()

	if !IsTemp(id) {
		t.Errorf("NewTemp() produced id without temp prefix: %s", id)
	}

	if IsValid(id) {
		t.Error("Temp id should not validate as a bare UUID v4")
	}

	if !IsValid(id[len(TempPrefix):]) {
		t.Errorf("Temp id suffix should be a UUID v4: %s", id)
	}
}

// TestIsTemp tests temp-id detection against real ids.
func TestIsTemp(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"temp id", "tmp_9b2d8c1e-1d2f-4a3b-8c4d-5e6f7a8b9c0d", true},
		{"real uuid", "9b2d8c1e-1d2f-4a3b-8c4d-5e6f7a8b9c0d", false},
		{"numeric server id", "42", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTemp(tt.id); got != tt.want {
				t.Errorf("IsTemp(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

// TestValidate tests strict UUID v4 validation.
func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate failed for generated UUID: %v", err)
	}

	if err := Validate("not-a-uuid"); err == nil {
		t.Error("Expected error for malformed UUID")
	}

	// v1-style UUID must be rejected (version nibble is not 4)
	if err := Validate("9b2d8c1e-1d2f-1a3b-8c4d-5e6f7a8b9c0d"); err == nil {
		t.Error("Expected error for non-v4 UUID")
	}
}
