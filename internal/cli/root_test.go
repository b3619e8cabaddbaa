package cli

import (
	"errors"
	"fmt"
	"testing"

	"pricewatch/internal/app"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{app.ErrInterrupted, 130},
		{fmt.Errorf("run: %w", app.ErrInterrupted), 130},
		{errors.New("boom"), 1},
	}
	for _, tc := range cases {
		if got := exitCode(tc.err); got != tc.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
