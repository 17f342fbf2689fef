package interview

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TextSimilarity("", ""))
	assert.Equal(t, 1.0, TextSimilarity("cache", "cache"))
	assert.Equal(t, 0.0, TextSimilarity("abc", "xyz"))
	assert.InDelta(t, 0.8, TextSimilarity("cache", "cachy"), 1e-9)
	assert.InDelta(t, 0.75, TextSimilarity("façade", "facades"), 0.1)
}

func TestSimilar(t *testing.T) {
	similar := Similar(0)
	base := Iteration{Question: "q", Best: "Hot partition on the write path"}

	assert.True(t, similar(base, Iteration{Question: "q", Best: "Hot partitions on the write path"}))
	assert.False(t, similar(base, Iteration{Question: "other", Best: base.Best}), "different questions never match")
	assert.False(t, similar(base, Iteration{Question: "q", Best: "Storage growth"}))

	// Without a best hypothesis the full list is compared.
	a := Iteration{Question: "q", Hypotheses: []string{"x", "y"}}
	assert.True(t, similar(a, Iteration{Question: "q", Hypotheses: []string{"x", "y"}}))

	strict := Similar(1)
	assert.False(t, strict(base, Iteration{Question: "q", Best: "Hot partitions on the write path"}))
}
