package rules

import "math/rand/v2"

// DefaultNoise is the probability that a consolidated label is resampled
const DefaultNoise = 0.01

type weights [3]float64

var (
	// fallbackWeights label rows on which no rule produced a score
	fallbackWeights = weights{0.1, 0.8, 0.1}

	// noiseWeights[c] is the resampling distribution around class c
	noiseWeights = [3]weights{
		LabelLow:    {0.8, 0.2, 0},
		LabelMedium: {0.1, 0.8, 0.1},
		LabelHigh:   {0, 0.2, 0.8},
	}
)

// Classification is the outcome of labeling one row
type Classification struct {
	Label        Label
	Consolidated Label   // label before noise; equals Label when Fallback is set
	Scores       []Label // one entry per attribute that produced a score
	Resampled    bool    // noise was applied (the label may still be unchanged)
	Fallback     bool    // no attribute scored; Label was drawn from the prior
}

// Classify labels one row. See ClassifyDetail.
func Classify(rng *rand.Rand, row map[string]any, schema *Schema, noise float64) Label {
	return ClassifyDetail(rng, row, schema, noise).Label
}

// ClassifyDetail scores every schema attribute present on row, consolidates
// the scores by majority with ties going to the lowest class, and resamples
// the result with probability noise. When no attribute scores, the label is
// drawn from the fallback prior instead. rng must not be nil.
func ClassifyDetail(rng *rand.Rand, row map[string]any, schema *Schema, noise float64) Classification {
	scores := Scores(row, schema)

	consolidated, ok := Consolidate(scores)
	if !ok {
		label := sample(rng, fallbackWeights)
		return Classification{Label: label, Consolidated: label, Fallback: true}
	}

	c := Classification{Label: consolidated, Consolidated: consolidated, Scores: scores}
	if rng.Float64() < noise {
		c.Label = sample(rng, noiseWeights[consolidated])
		c.Resampled = true
	}
	return c
}

// Scores evaluates each schema attribute against row. Attributes missing from
// the row or holding non-numeric values contribute nothing.
func Scores(row map[string]any, schema *Schema) []Label {
	if schema == nil {
		return nil
	}

	var scores []Label
	for _, attr := range schema.attributes {
		raw, ok := row[attr.Name]
		if !ok {
			continue
		}
		value, ok := ToNumber(Encode(attr.Name, raw))
		if !ok {
			continue
		}
		if label, ok := attr.Rule.Score(value); ok {
			scores = append(scores, label)
		}
	}
	return scores
}

// Consolidate returns the most frequent class in scores, preferring the
// lowest class on ties. ok is false when scores is empty.
func Consolidate(scores []Label) (Label, bool) {
	if len(scores) == 0 {
		return 0, false
	}

	var counts [3]int
	for _, s := range scores {
		if s.Valid() {
			counts[s]++
		}
	}

	best, bestCount := LabelLow, -1
	for l := LabelLow; l <= LabelHigh; l++ {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best, true
}

func sample(rng *rand.Rand, w weights) Label {
	r := rng.Float64()
	var acc float64
	last := LabelLow
	for i, p := range w {
		if p == 0 {
			continue
		}
		acc += p
		last = Label(i)
		if r < acc {
			return last
		}
	}
	return last
}
