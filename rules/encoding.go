package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record columns, named as the training and reporting consumers expect them
const (
	FieldName              = "nombre"
	FieldArea              = "area"
	FieldHierarchy         = "jerarquia"
	FieldScore             = "puntaje"
	FieldProjects          = "cantidad_proyectos"
	FieldPerformance       = "desempenio"
	FieldTeamSize          = "personas_equipo"
	FieldOvertime          = "horas_extra"
	FieldAttendance        = "asistencia_puntualidad"
	FieldFuturePerformance = "desempenio_futuro"
)

// Columns lists the dataset columns in output order
var Columns = []string{
	FieldName,
	FieldArea,
	FieldHierarchy,
	FieldScore,
	FieldProjects,
	FieldPerformance,
	FieldTeamSize,
	FieldOvertime,
	FieldAttendance,
	FieldFuturePerformance,
}

// Hierarchy and performance levels in ordinal order
var (
	HierarchyLevels   = []string{"trainee", "junior", "senior"}
	PerformanceLevels = []string{"bajo", "medio", "alto"}
)

// canonicalEncodings is the single categorical-to-ordinal table shared by
// scoring, generation and real-record labeling. Keys are lower case.
var canonicalEncodings = map[string]map[string]int{
	FieldHierarchy: {
		"trainee": 0,
		"junior":  1,
		"senior":  2,
	},
	FieldPerformance: {
		"bajo":   0,
		"medio":  1,
		"alto":   2,
		"low":    0,
		"medium": 1,
		"high":   2,
	},
}

// IsCategorical reports whether field has a canonical ordinal encoding
func IsCategorical(field string) bool {
	_, ok := canonicalEncodings[field]
	return ok
}

// Encode maps a categorical string to its ordinal, case-insensitively.
// Values of other fields, non-strings and unknown strings are returned as is.
func Encode(field string, value any) any {
	table, ok := canonicalEncodings[field]
	if !ok {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	if ordinal, ok := table[strings.ToLower(s)]; ok {
		return ordinal
	}
	return value
}

// Decode maps an ordinal back to its canonical categorical name
func Decode(field string, ordinal int) (string, bool) {
	var levels []string
	switch field {
	case FieldHierarchy:
		levels = HierarchyLevels
	case FieldPerformance:
		levels = PerformanceLevels
	default:
		return "", false
	}
	if ordinal < 0 || ordinal >= len(levels) {
		return "", false
	}
	return levels[ordinal], true
}

// ToNumber coerces a record value to a float. ok is false for absent,
// non-numeric and NaN values.
func ToNumber(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0, false
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// NumericView returns a copy of row with categoricals encoded and every
// numeric-coercible value converted to float64. Other values are kept as is.
func NumericView(row map[string]any) map[string]any {
	view := make(map[string]any, len(row))
	for k, v := range row {
		v = Encode(k, v)
		if f, ok := ToNumber(v); ok {
			view[k] = f
			continue
		}
		view[k] = v
	}
	return view
}
