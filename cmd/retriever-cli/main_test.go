package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retriever/internal/domain"
)

func newQueryFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "query"}
	cmd.Flags().Float64("threshold", 0, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestQueryThreshold(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    float64
		invalid bool
	}{
		{name: "unset uses default", args: nil, want: 0.2},
		{name: "explicit zero is kept", args: []string{"--threshold", "0"}, want: 0},
		{name: "explicit value", args: []string{"--threshold=0.5"}, want: 0.5},
		{name: "negative is passed through", args: []string{"--threshold=-0.5"}, want: -0.5, invalid: true},
		{name: "above one is passed through", args: []string{"--threshold", "1.5"}, want: 1.5, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := queryThreshold(newQueryFlags(t, tt.args...), 0.2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			err = domain.QueryContext{Query: "q", Threshold: got}.Validate()
			if tt.invalid {
				assert.ErrorIs(t, err, domain.ErrInvalidQuery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
