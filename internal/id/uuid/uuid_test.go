package uuid

import (
	"testing"

	"github.com/google/uuid"
)

// TestNewIDProducesValidV7 ensures generated IDs parse and carry version 7.
func TestNewIDProducesValidV7(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	id, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("generated id %q does not parse: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

// TestNewIDUnique checks two generated ids differ.
func TestNewIDUnique(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
	a, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	b, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if a == b {
		t.Fatalf("expected unique ids, got %s twice", a)
	}
}
