package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged", Errorf(KindPending, "pending"), KindPending},
		{"wrapped", fmt.Errorf("download: %w", NewError(KindNotFound, "no such job", nil)), KindNotFound},
		{"plain", errors.New("connection reset"), KindExternalFailure},
		{"external", External("failed to read object", errors.New("timeout")), KindExternalFailure},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Fatalf("%s: KindOf = %s, want %s", tc.name, got, tc.want)
		}
	}
	if IsKind(nil, KindExternalFailure) {
		t.Fatalf("nil error must not carry a kind")
	}
}

func TestText(t *testing.T) {
	if got := Text(Errorf(KindPending, "pending")); got != "pending" {
		t.Fatalf("Text = %q", got)
	}
	cause := errors.New("bucket gone")
	if got := Text(External("failed to write artifact", cause)); got != "failed to write artifact: bucket gone" {
		t.Fatalf("Text = %q", got)
	}
	if !errors.Is(External("x", cause), cause) {
		t.Fatalf("External must unwrap to its cause")
	}
}
