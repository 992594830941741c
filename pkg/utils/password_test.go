package utils

import "testing"

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("hash must not equal the plaintext")
	}

	other, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}
	if other == hash {
		t.Error("bcrypt hashes must be salted, got identical output")
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hashing failed: %v", err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
	}{
		{"matching password", "correct-horse", hash, true},
		{"wrong password", "battery-staple", hash, false},
		{"empty password", "", hash, false},
		{"garbage hash", "correct-horse", "not-a-bcrypt-hash", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password, tt.hash); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
