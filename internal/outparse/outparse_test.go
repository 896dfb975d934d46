package outparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		want   []string
	}{
		{
			name:   "single line",
			stdout: "OUT=cpu=23.5\ttemp=67.2",
			want:   []string{"cpu=23.5", "temp=67.2"},
		},
		{
			name:   "last OUT line wins",
			stdout: "OUT=cpu=1\nsome noise\nOUT=cpu=2\n",
			want:   []string{"cpu=2"},
		},
		{
			name:   "crlf stripped",
			stdout: "OUT=rt=0.42\r\n",
			want:   []string{"rt=0.42"},
		},
		{
			name:   "no OUT line",
			stdout: "plain output\nnothing here\n",
			want:   nil,
		},
		{
			name:   "empty payload",
			stdout: "OUT=\n",
			want:   nil,
		},
		{
			name:   "prefix must start the line",
			stdout: "  OUT=cpu=1\n",
			want:   nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Tokens(tc.stdout))
		})
	}
}

func TestPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		tokens []string
		want   []Pair
	}{
		{
			name:   "key value tokens",
			tokens: []string{"cpu=23.5", "temp=67.2"},
			want:   []Pair{{Key: "cpu", Value: 23.5}, {Key: "temp", Value: 67.2}},
		},
		{
			name:   "bare number keyed value",
			tokens: []string{"42"},
			want:   []Pair{{Key: "value", Value: 42}},
		},
		{
			name:   "garbage discarded silently",
			tokens: []string{"cpu=fast", "hello", "ok=1"},
			want:   []Pair{{Key: "ok", Value: 1}},
		},
		{
			name:   "negative and scientific",
			tokens: []string{"delta=-3.5", "1e3"},
			want:   []Pair{{Key: "delta", Value: -3.5}, {Key: "value", Value: 1000}},
		},
		{
			name:   "empty tokens skipped",
			tokens: []string{"", "  ", "a=1"},
			want:   []Pair{{Key: "a", Value: 1}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Pairs(tc.tokens))
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	pairs := Parse("booting probe\nOUT=cpu=12.5\t99\nbye\n")
	require.Len(t, pairs, 2)
	assert.Equal(t, Pair{Key: "cpu", Value: 12.5}, pairs[0])
	assert.Equal(t, Pair{Key: "value", Value: 99}, pairs[1])

	assert.Nil(t, Parse("no metrics at all"))
}
