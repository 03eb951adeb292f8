package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "mixed schemes",
			text: "see http://a.com and https://b.com/x?y=1 !",
			want: []string{"http://a.com", "https://b.com/x?y=1"},
		},
		{
			name: "no urls",
			text: "nothing to see at example.com or ftp://files",
			want: []string{},
		},
		{
			name: "empty",
			text: "",
			want: []string{},
		},
		{
			name: "repeats kept in order",
			text: "https://x.io/a\nhttps://x.io/a\thttp://y.io",
			want: []string{"https://x.io/a", "https://x.io/a", "http://y.io"},
		},
		{
			name: "trailing punctuation is part of the token",
			text: "(https://z.org/path),",
			want: []string{"https://z.org/path),"},
		},
		{
			name: "bare scheme does not match",
			text: "https:// alone",
			want: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExtractURLs(tc.text))
		})
	}
}

func TestUniqueURLs(t *testing.T) {
	t.Parallel()

	got := UniqueURLs([]string{"b", "a", "b", "c", "a"})
	assert.Equal(t, []string{"b", "a", "c"}, got)
	assert.Empty(t, UniqueURLs(nil))
}
