package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassify_ThresholdBoundaries verifies inclusive bounds on both ends
func TestClassify_ThresholdBoundaries(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}}`)
	rng := NewRand(1)

	tests := []struct {
		puntaje int
		want    Label
	}{
		{49, LabelLow},
		{50, LabelMedium},
		{60, LabelMedium},
		{61, LabelHigh},
	}

	for _, tt := range tests {
		got := Classify(rng, map[string]any{"puntaje": tt.puntaje}, schema, 0)
		assert.Equal(t, tt.want, got, "puntaje=%d", tt.puntaje)
	}
}

// TestClassify_MultiClassSingleContribution verifies an attribute contributes exactly one class
func TestClassify_MultiClassSingleContribution(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"0": [0, 50], "1": [51, 80], "2": [81, 100]}}`)

	c := ClassifyDetail(NewRand(1), map[string]any{"puntaje": 55}, schema, 0)

	assert.Equal(t, LabelMedium, c.Label)
	assert.Equal(t, []Label{LabelMedium}, c.Scores)
	assert.False(t, c.Fallback)
}

// TestConsolidate_TieGoesToLowestClass verifies {0,0,2,2} consolidates to 0
func TestConsolidate_TieGoesToLowestClass(t *testing.T) {
	tests := []struct {
		name   string
		scores []Label
		want   Label
	}{
		{"two-way tie low/high", []Label{LabelLow, LabelLow, LabelHigh, LabelHigh}, LabelLow},
		{"two-way tie high first", []Label{LabelHigh, LabelHigh, LabelLow, LabelLow}, LabelLow},
		{"tie medium/high", []Label{LabelHigh, LabelMedium}, LabelMedium},
		{"three-way tie", []Label{LabelHigh, LabelMedium, LabelLow}, LabelLow},
		{"clear majority", []Label{LabelHigh, LabelHigh, LabelLow}, LabelHigh},
		{"single", []Label{LabelHigh}, LabelHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Consolidate(tt.scores)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := Consolidate(nil)
	assert.False(t, ok, "empty scores have no consolidated label")
}

// TestClassify_TieOnRow verifies the tie-break through full row classification
func TestClassify_TieOnRow(t *testing.T) {
	schema := MustParseSchema(`{
		"puntaje": {"1": [50, 60]},
		"horas_extra": {"1": [5, 10]},
		"personas_equipo": {"1": [5, 10]},
		"asistencia_puntualidad": {"1": [80, 90]}
	}`)
	row := map[string]any{
		"puntaje":                40, // low
		"horas_extra":            1,  // low
		"personas_equipo":        20, // high
		"asistencia_puntualidad": 99, // high
	}

	c := ClassifyDetail(NewRand(7), row, schema, 0)
	assert.Equal(t, LabelLow, c.Label)
	assert.Len(t, c.Scores, 4)
}

// TestClassify_DeterministicWithoutNoise verifies repeated classification is stable at noise 0
func TestClassify_DeterministicWithoutNoise(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}, "jerarquia": {"0": [0, 0], "2": [2, 2]}}`)
	row := map[string]any{"puntaje": 75, "jerarquia": "senior"}

	rng := NewRand(99)
	first := Classify(rng, row, schema, 0)
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, Classify(rng, row, schema, 0))
	}
	assert.Equal(t, LabelHigh, first)
}

// TestClassify_EmptySchemaFallback verifies the no-signal prior {0.1, 0.8, 0.1}
func TestClassify_EmptySchemaFallback(t *testing.T) {
	schema := MustParseSchema(`{}`)
	rng := NewRand(2024)

	const n = 10000
	var dist Distribution
	for i := 0; i < n; i++ {
		c := ClassifyDetail(rng, map[string]any{"puntaje": 55}, schema, 0.5)
		require.True(t, c.Fallback)
		require.False(t, c.Resampled, "fallback labels are not passed through noise")
		dist.Add(c.Label)
	}

	assert.Equal(t, n, dist.Total())
	assert.InDelta(t, 0.1, dist.Share(LabelLow), 0.03)
	assert.InDelta(t, 0.8, dist.Share(LabelMedium), 0.03)
	assert.InDelta(t, 0.1, dist.Share(LabelHigh), 0.03)
}

// TestClassify_SchemaMatchingNothing verifies rows missing every attribute use the fallback
func TestClassify_SchemaMatchingNothing(t *testing.T) {
	schema := MustParseSchema(`{"antiguedad": {"1": [1, 5]}}`)

	c := ClassifyDetail(NewRand(3), map[string]any{"puntaje": 55}, schema, 0)
	assert.True(t, c.Fallback)
	assert.Empty(t, c.Scores)
	assert.True(t, c.Label.Valid())
}

// TestClassify_SkipsMissingAndNonNumeric verifies bad values contribute nothing
func TestClassify_SkipsMissingAndNonNumeric(t *testing.T) {
	schema := MustParseSchema(`{
		"puntaje": {"1": [50, 60]},
		"horas_extra": {"1": [0, 10]},
		"desempenio": {"0": [0, 0], "1": [1, 1], "2": [2, 2]},
		"asistencia_puntualidad": {"1": [80, 90]}
	}`)
	row := map[string]any{
		"puntaje":                "n/a",
		"desempenio":             "excelente",
		"asistencia_puntualidad": nil,
		"horas_extra":            "25",
	}

	c := ClassifyDetail(NewRand(5), row, schema, 0)
	assert.Equal(t, []Label{LabelHigh}, c.Scores, "only the numeric string horas_extra should score")
	assert.Equal(t, LabelHigh, c.Label)
}

// TestClassify_CategoricalEncoding verifies categoricals are matched case-insensitively
func TestClassify_CategoricalEncoding(t *testing.T) {
	schema := MustParseSchema(`{"jerarquia": {"0": [0, 0], "1": [1, 1], "2": [2, 2]}}`)

	tests := []struct {
		value string
		want  Label
	}{
		{"trainee", LabelLow},
		{"Junior", LabelMedium},
		{"SENIOR", LabelHigh},
	}
	for _, tt := range tests {
		got := Classify(NewRand(1), map[string]any{"jerarquia": tt.value}, schema, 0)
		assert.Equal(t, tt.want, got, "jerarquia=%q", tt.value)
	}

	perf := MustParseSchema(`{"desempenio": {"1": [1, 1]}}`)
	assert.Equal(t, LabelMedium, Classify(NewRand(1), map[string]any{"desempenio": "Medium"}, perf, 0))
	assert.Equal(t, LabelHigh, Classify(NewRand(1), map[string]any{"desempenio": "alto"}, perf, 0))
}

// TestClassify_NoNoiseMatchesConsolidated verifies p_noise=0 never perturbs a label
func TestClassify_NoNoiseMatchesConsolidated(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}, "horas_extra": {"0": [0, 5], "2": [15, 20]}}`)
	rng := NewRand(11)

	for i := 0; i < 2000; i++ {
		row := map[string]any{"puntaje": 30 + rng.IntN(70), "horas_extra": rng.IntN(21)}
		c := ClassifyDetail(rng, row, schema, 0)
		require.False(t, c.Resampled)
		require.Equal(t, c.Consolidated, c.Label)
	}
}

// TestClassify_FullNoiseStaysAdjacent verifies resampling only moves to neighboring classes
func TestClassify_FullNoiseStaysAdjacent(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}}`)
	rng := NewRand(13)

	var fromLow, fromHigh Distribution
	for i := 0; i < 5000; i++ {
		low := ClassifyDetail(rng, map[string]any{"puntaje": 10}, schema, 1)
		require.True(t, low.Resampled)
		require.Equal(t, LabelLow, low.Consolidated)
		require.NotEqual(t, LabelHigh, low.Label, "class 0 never resamples to 2")
		fromLow.Add(low.Label)

		high := ClassifyDetail(rng, map[string]any{"puntaje": 90}, schema, 1)
		require.NotEqual(t, LabelLow, high.Label, "class 2 never resamples to 0")
		fromHigh.Add(high.Label)
	}

	assert.InDelta(t, 0.8, fromLow.Share(LabelLow), 0.03)
	assert.InDelta(t, 0.2, fromLow.Share(LabelMedium), 0.03)
	assert.InDelta(t, 0.8, fromHigh.Share(LabelHigh), 0.03)
	assert.InDelta(t, 0.2, fromHigh.Share(LabelMedium), 0.03)
}

// TestClassify_NoiseRate verifies roughly p_noise of the rows go through resampling
func TestClassify_NoiseRate(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}}`)
	rng := NewRand(17)

	const n = 20000
	resampled := 0
	for i := 0; i < n; i++ {
		if ClassifyDetail(rng, map[string]any{"puntaje": 55}, schema, 0.1).Resampled {
			resampled++
		}
	}
	assert.InDelta(t, 0.1, float64(resampled)/n, 0.02)
}

// TestClassify_AlwaysValidLabel verifies labels stay in {0,1,2} for arbitrary input
func TestClassify_AlwaysValidLabel(t *testing.T) {
	schemas := []*Schema{
		MustParseSchema(`{}`),
		MustParseSchema(`{"puntaje": {"1": [60, 50]}}`),
		MustParseSchema(`{"puntaje": {"0": [0, 10]}, "jerarquia": {"2": [2, 2]}}`),
		nil,
	}
	values := []any{nil, "", "abc", -1e9, 0, 55, 1e9, "senior", true, []int{1}}
	rng := NewRand(23)

	for _, s := range schemas {
		for _, v := range values {
			for _, noise := range []float64{0, 0.5, 1} {
				row := map[string]any{"puntaje": v, "jerarquia": v}
				label := Classify(rng, row, s, noise)
				require.True(t, label.Valid(), "label %v for value %v", label, v)
			}
		}
	}
}

// TestClassify_SameSeedSameLabels verifies an injected seed reproduces noisy labels exactly
func TestClassify_SameSeedSameLabels(t *testing.T) {
	schema := MustParseSchema(`{"puntaje": {"1": [50, 60]}}`)

	run := func() []Label {
		rng := NewRand(31)
		out := make([]Label, 500)
		for i := range out {
			out[i] = Classify(rng, map[string]any{"puntaje": 40 + i%30}, schema, 0.3)
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestLabel_String(t *testing.T) {
	assert.Equal(t, "bajo", LabelLow.String())
	assert.Equal(t, "medio", LabelMedium.String())
	assert.Equal(t, "alto", LabelHigh.String())
	assert.Equal(t, "Label(7)", Label(7).String())
	assert.False(t, Label(-1).Valid())
}
