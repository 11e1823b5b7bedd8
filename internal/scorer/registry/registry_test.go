package registry

import (
	"errors"
	"testing"

	"github.com/phrasewatch/phrasewatch/pkg/config"
	apperrors "github.com/phrasewatch/phrasewatch/pkg/errors"
)

func TestRegistryFallsBackToDefault(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	if _, err := r.Get("default"); err != nil {
		t.Errorf("default model missing: %v", err)
	}
	// Empty name routes to default.
	if _, err := r.Get(""); err != nil {
		t.Errorf("empty name lookup: %v", err)
	}
}

func TestRegistryUnknownModel(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Get("nope")
	if !errors.Is(err, apperrors.ErrModelNotFound) {
		t.Errorf("err = %v, want ErrModelNotFound", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	a := config.DefaultModel()
	b := config.DefaultModel()
	if _, err := New([]config.ModelConfig{a, b}); err == nil {
		t.Error("duplicate model names accepted")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	a := config.DefaultModel()
	a.Name = "zeta"
	b := config.DefaultModel()
	b.Name = "alpha"
	r, err := New([]config.ModelConfig{a, b})
	if err != nil {
		t.Fatal(err)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Names = %v", names)
	}
}
