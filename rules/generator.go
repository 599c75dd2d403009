package rules

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
)

// DefaultSamples is the dataset size used when none is requested
const DefaultSamples = 3000

var (
	ErrInvalidSampleCount = errors.New("sample count must be positive")
	ErrInvalidNoise       = errors.New("noise must be between 0 and 1")
)

// Areas is the catalog synthetic employees are drawn from
var Areas = []string{
	"reposicion",
	"ventas",
	"atencion al cliente",
	"administracion",
	"caja",
	"logistica",
	"deposito",
}

var (
	hierarchyWeights   = []float64{0.3, 0.4, 0.3}
	performanceWeights = []float64{0.2, 0.5, 0.3}
)

// GenerateOptions controls one generation run
type GenerateOptions struct {
	Samples int
	Noise   float64
	// Rand drives both field sampling and noise. A nil Rand is seeded randomly.
	Rand *rand.Rand
}

func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		Samples: DefaultSamples,
		Noise:   DefaultNoise,
	}
}

// Validate checks the sample count and noise probability
func (o GenerateOptions) Validate() error {
	if o.Samples <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleCount, o.Samples)
	}
	return ValidateNoise(o.Noise)
}

// ValidateNoise checks that noise is a probability
func ValidateNoise(noise float64) error {
	if math.IsNaN(noise) || noise < 0 || noise > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidNoise, noise)
	}
	return nil
}

// NewRand returns a generator whose output is fully determined by seed
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func randomRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// Record is one synthetic employee. Categorical fields keep their display
// strings; the ordinal encoding is only used while labeling.
type Record struct {
	Name              string `json:"nombre"`
	Area              string `json:"area"`
	Hierarchy         string `json:"jerarquia"`
	Score             int    `json:"puntaje"`
	Projects          int    `json:"cantidad_proyectos"`
	Performance       string `json:"desempenio"`
	TeamSize          int    `json:"personas_equipo"`
	Overtime          int    `json:"horas_extra"`
	Attendance        int    `json:"asistencia_puntualidad"`
	FuturePerformance Label  `json:"desempenio_futuro"`
}

// Fields returns the record attributes keyed by column name, without the label
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldName:        r.Name,
		FieldArea:        r.Area,
		FieldHierarchy:   r.Hierarchy,
		FieldScore:       r.Score,
		FieldProjects:    r.Projects,
		FieldPerformance: r.Performance,
		FieldTeamSize:    r.TeamSize,
		FieldOvertime:    r.Overtime,
		FieldAttendance:  r.Attendance,
	}
}

// Row returns the full record, label included, keyed by column name
func (r Record) Row() map[string]any {
	row := r.Fields()
	row[FieldFuturePerformance] = int(r.FuturePerformance)
	return row
}

// CSV returns the record values in Columns order
func (r Record) CSV() []string {
	return []string{
		r.Name,
		r.Area,
		r.Hierarchy,
		strconv.Itoa(r.Score),
		strconv.Itoa(r.Projects),
		r.Performance,
		strconv.Itoa(r.TeamSize),
		strconv.Itoa(r.Overtime),
		strconv.Itoa(r.Attendance),
		strconv.Itoa(int(r.FuturePerformance)),
	}
}

// Dataset is the labeled output of one generation run
type Dataset struct {
	Records      []Record
	Distribution Distribution
	Resampled    int // rows whose consolidated label went through noise
	Fallbacks    int // rows labeled from the no-signal prior
}

// Rows returns the records as flat column maps
func (d *Dataset) Rows() []map[string]any {
	rows := make([]map[string]any, len(d.Records))
	for i, r := range d.Records {
		rows[i] = r.Row()
	}
	return rows
}

// WriteCSV writes a header line followed by one line per record
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, r := range d.Records {
		if err := cw.Write(r.CSV()); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Generate simulates opts.Samples employees and labels each one with en
func Generate(en *Engine, opts GenerateOptions) (*Dataset, error) {
	if en == nil {
		return nil, errors.New("generate: nil engine")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	rng := opts.Rand
	if rng == nil {
		rng = randomRand()
	}

	ds := &Dataset{Records: make([]Record, 0, opts.Samples)}
	for i := 0; i < opts.Samples; i++ {
		rec := randomRecord(rng, i+1)

		c := en.Label(rng, rec.Fields(), opts.Noise)
		rec.FuturePerformance = c.Label

		ds.Distribution.Add(c.Label)
		if c.Resampled {
			ds.Resampled++
		}
		if c.Fallback {
			ds.Fallbacks++
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

func randomRecord(rng *rand.Rand, n int) Record {
	return Record{
		Name:        fmt.Sprintf("Empleado %d", n),
		Area:        Areas[rng.IntN(len(Areas))],
		Hierarchy:   pick(rng, HierarchyLevels, hierarchyWeights),
		Score:       intIn(rng, 30, 100),
		Projects:    intIn(rng, 1, 6),
		Performance: pick(rng, PerformanceLevels, performanceWeights),
		TeamSize:    intIn(rng, 2, 31),
		Overtime:    intIn(rng, 0, 21),
		Attendance:  intIn(rng, 40, 101),
	}
}

// intIn returns an integer in [lo, hi)
func intIn(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo)
}

func pick(rng *rand.Rand, values []string, w []float64) string {
	r := rng.Float64()
	var acc float64
	for i, p := range w {
		acc += p
		if r < acc {
			return values[i]
		}
	}
	return values[len(values)-1]
}
