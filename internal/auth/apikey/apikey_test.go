package apikey

import (
	"strings"
	"testing"
)

func TestScopeCoverage(t *testing.T) {
	tests := []struct {
		scope    string
		required string
		want     bool
	}{
		{ScopeScore, ScopeScore, true},
		{ScopeScore, ScopeIntake, false},
		{ScopeScore, ScopeAdmin, false},
		{ScopeIntake, ScopeScore, true},
		{ScopeIntake, ScopeIntake, true},
		{ScopeIntake, ScopeAdmin, false},
		{ScopeAdmin, ScopeScore, true},
		{ScopeAdmin, ScopeIntake, true},
		{ScopeAdmin, ScopeAdmin, true},
	}
	for _, tt := range tests {
		k := KeyInfo{Scope: tt.scope}
		if got := k.Allows(tt.required); got != tt.want {
			t.Errorf("scope %s requiring %s: got %v, want %v",
				tt.scope, tt.required, got, tt.want)
		}
	}
}

func TestHashKeyIsDeterministic(t *testing.T) {
	a := HashKey("pw_abc")
	b := HashKey("pw_abc")
	if a != b {
		t.Fatal("same key hashed to different digests")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(a))
	}
	if a == HashKey("pw_abd") {
		t.Fatal("distinct keys hashed to the same digest")
	}
}

func TestGeneratedKeysArePrefixedAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := generateRawKey()
		if !strings.HasPrefix(k, rawKeyPrefix) {
			t.Fatalf("key %q missing %q prefix", k, rawKeyPrefix)
		}
		if seen[k] {
			t.Fatalf("duplicate key generated: %s", k)
		}
		seen[k] = true
	}
}
