package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	xerrors "Fluxo/internal/errors"
)

func TestOpenPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Open(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer client.Close()
	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestOpenRequiresAddress(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
