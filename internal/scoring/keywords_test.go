package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordSet(t *testing.T) {
	t.Parallel()

	set := mustKeywordSet(" analys", " but ", " analys", " je vais")

	tests := []struct {
		text  string
		count int
	}{
		{"Analyse puis ANALYSER", 2},
		{"Le but est clair", 1},
		{"début et butée", 0},
		{"paralysé", 0},
		{"Je   vais tester", 1},
		{"", 0},
		{"   ", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.count, set.Count(tt.text), tt.text)
		assert.Equal(t, tt.count > 0, set.Contains(tt.text), tt.text)
	}
}
