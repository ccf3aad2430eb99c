package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/Lllllllleong/imagepipeline/internal/config"
)

func TestNew_ClosesPartialRuntimeOnError(t *testing.T) {
	cfg := &config.Config{
		BlobStore:        config.BlobStoreLocal,
		LocalDataDir:     t.TempDir(),
		JobStore:         config.JobStoreRedis,
		DatabaseEndpoint: "not a redis url",
	}
	rt, err := New(context.Background(), cfg, Needs{})
	if err == nil || rt != nil {
		t.Fatalf("expected failure, got %v, %v", rt, err)
	}
}

func TestRuntimeClose_JoinsErrors(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	rt := &Runtime{closers: []func() error{
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return boom },
	}}
	if err := rt.Close(); !errors.Is(err, boom) {
		t.Fatalf("Close err = %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("close order = %v", order)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
}
