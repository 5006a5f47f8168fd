package database

import (
	"context"
	"testing"
)

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "   ")
	if err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
