package document

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		config SplitterConfig
		want   []string
	}{
		{
			name:   "word boundaries without room for overlap",
			text:   "AAAA BBBB CCCC DDDD",
			config: SplitterConfig{ChunkSize: 10, ChunkOverlap: 4, Separators: []string{" ", ""}},
			want:   []string{"AAAA BBBB", "CCCC DDDD"},
		},
		{
			name:   "word boundaries with overlap",
			text:   "AAAA BBBB CCCC DDDD",
			config: SplitterConfig{ChunkSize: 10, ChunkOverlap: 5, Separators: []string{" ", ""}},
			want:   []string{"AAAA BBBB", "BBBB CCCC", "CCCC DDDD"},
		},
		{
			name:   "character level fallback",
			text:   "abcdefgh",
			config: SplitterConfig{ChunkSize: 3, ChunkOverlap: 1, Separators: []string{" ", ""}},
			want:   []string{"abc", "cde", "efg", "gh"},
		},
		{
			name:   "oversized word kept whole",
			text:   "abcdefghijklmnop qr",
			config: SplitterConfig{ChunkSize: 5, ChunkOverlap: 0, Separators: []string{" "}},
			want:   []string{"abcdefghijklmnop", "qr"},
		},
		{
			name:   "long paragraph recurses into words",
			text:   "para one.\n\nsecond paragraph here",
			config: SplitterConfig{ChunkSize: 20, ChunkOverlap: 0, Separators: DefaultSeparators},
			want:   []string{"para one.", "second paragraph", "here"},
		},
		{
			name:   "lengths counted in characters",
			text:   "ααα βββ",
			config: SplitterConfig{ChunkSize: 4, ChunkOverlap: 0, Separators: []string{" ", ""}},
			want:   []string{"ααα", "βββ"},
		},
		{
			name:   "short text is a single chunk",
			text:   "  hello world  ",
			config: DefaultSplitterConfig(),
			want:   []string{"hello world"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.config.Validate())
			assert.Equal(t, tt.want, Split(tt.text, tt.config))
		})
	}
}

func TestSplitWhitespaceOnly(t *testing.T) {
	assert.Empty(t, Split("   \n\n  \n ", DefaultSplitterConfig()))
	assert.Empty(t, Split("", DefaultSplitterConfig()))
}

func TestSplitProperties(t *testing.T) {
	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("word%03d", i)
	}
	text := strings.Join(words, " ")

	cfg := SplitterConfig{ChunkSize: 100, ChunkOverlap: 20, Separators: DefaultSeparators}
	chunks := Split(text, cfg)
	require.NotEmpty(t, chunks)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, chunks, Split(text, cfg))
	})

	t.Run("size bound", func(t *testing.T) {
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), cfg.ChunkSize)
		}
	})

	t.Run("no empty chunks", func(t *testing.T) {
		for _, c := range chunks {
			assert.NotEmpty(t, strings.TrimSpace(c))
		}
	})

	t.Run("covers every word in order", func(t *testing.T) {
		// 去掉重叠部分后应能按顺序还原全部单词
		var got []string
		for _, c := range chunks {
			fields := strings.Fields(c)
			got = append(got, fields[longestOverlap(got, fields):]...)
		}
		assert.Equal(t, words, got)
	})

	t.Run("adjacent chunks overlap", func(t *testing.T) {
		for i := 1; i < len(chunks); i++ {
			prev := strings.Fields(chunks[i-1])
			next := strings.Fields(chunks[i])
			assert.Positive(t, longestOverlap(prev, next), "chunk %d should start with the tail of chunk %d", i, i-1)
		}
	})
}

// longestOverlap 返回got的后缀与fields的前缀最长重合的单词数
func longestOverlap(got, fields []string) int {
	best := 0
	for n := 1; n <= len(fields) && n <= len(got); n++ {
		if overlapMatches(got, fields, n) {
			best = n
		}
	}
	return best
}

func overlapMatches(got, fields []string, n int) bool {
	tail := got[len(got)-n:]
	for i := range tail {
		if tail[i] != fields[i] {
			return false
		}
	}
	return true
}

func TestSplitterConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  SplitterConfig
		wantErr bool
	}{
		{"default", DefaultSplitterConfig(), false},
		{"zero size", SplitterConfig{ChunkSize: 0, Separators: DefaultSeparators}, true},
		{"negative overlap", SplitterConfig{ChunkSize: 10, ChunkOverlap: -1, Separators: DefaultSeparators}, true},
		{"overlap equals size", SplitterConfig{ChunkSize: 10, ChunkOverlap: 10, Separators: DefaultSeparators}, true},
		{"no separators", SplitterConfig{ChunkSize: 10, ChunkOverlap: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitKeepsInvalidUTF8Bytes(t *testing.T) {
	text := "caf\xe9caf\xe9caf\xe9"
	chunks := Split(text, SplitterConfig{ChunkSize: 4, ChunkOverlap: 0, Separators: []string{" ", ""}})

	assert.Equal(t, []string{"caf\xe9", "caf\xe9", "caf\xe9"}, chunks)
	assert.Equal(t, text, strings.Join(chunks, ""))
	assert.Equal(t, Identify("caf\xe9"), Identify(chunks[0]))
}
