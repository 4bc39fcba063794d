package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func thresholds() Thresholds {
	return Thresholds{ADXTrending: 25, ADXRanging: 15, ChopTrending: 38.2, ChopRanging: 61.8}
}

func TestClassify_Trending(t *testing.T) {
	r := Classify(30, 30, 0, 0, thresholds())
	assert.Equal(t, Trending, r.Tag)
	assert.False(t, r.BlocksEntry)
	assert.Equal(t, 1.0, r.SizeMultiplier)
}

func TestClassify_ChoppyBlocksEntry(t *testing.T) {
	r := Classify(10, 70, 0, 0, thresholds())
	assert.Equal(t, Choppy, r.Tag)
	assert.True(t, r.BlocksEntry)
	assert.Equal(t, 0.0, r.SizeMultiplier)
}

func TestClassify_TransitionalHalvesSize(t *testing.T) {
	r := Classify(20, 50, 0, 0, thresholds())
	assert.Equal(t, Transitional, r.Tag)
	assert.False(t, r.BlocksEntry)
	assert.Equal(t, 0.5, r.SizeMultiplier)
}

func TestClassify_HighChoppinessOverridesTrendingADX(t *testing.T) {
	// ADX alone looks trending, but choppiness is still in ranging territory.
	r := Classify(30, 65, 0, 0, thresholds())
	assert.Equal(t, Choppy, r.Tag)
}

func TestClassify_VolSubRegimeSkippedWithoutATRSMA(t *testing.T) {
	r := Classify(30, 30, 0.01, 0, thresholds())
	assert.Equal(t, VolSubRegime(""), r.VolSubRegime)
}

func TestClassify_VolSubRegimeContractionAndExpansion(t *testing.T) {
	contraction := Classify(30, 30, 0.5, 1.0, thresholds())
	assert.Equal(t, Contraction, contraction.VolSubRegime)

	expansion := Classify(30, 30, 1.5, 1.0, thresholds())
	assert.Equal(t, Expansion, expansion.VolSubRegime)

	normal := Classify(30, 30, 1.0, 1.0, thresholds())
	assert.Equal(t, Normal, normal.VolSubRegime)
}
