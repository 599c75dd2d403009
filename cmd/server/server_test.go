package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liamcoop/perfrules/internal/config"
	"github.com/liamcoop/perfrules/rules"
	"github.com/liamcoop/perfrules/rulesets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := rules.NewInMemoryRuleSetStore()
	cached := rules.NewCachedRuleSetStore(store, rules.NewInMemoryRuleSetCache(rules.DefaultCacheConfig()))
	return newServer(config.Default(), nil, rulesets.NewManager(cached, store))
}

func doRequest(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func createDataset(t *testing.T, s *Server, body map[string]any) DatasetResponse {
	t.Helper()
	w := doRequest(t, s, http.MethodPost, "/api/v1/datasets", body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	return decodeBody[DatasetResponse](t, w)
}

// TestHealth verifies the health endpoint reports in-memory storage
func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "memory", resp.Storage)
	assert.Equal(t, 0, resp.RuleSetsLoaded)
}

// TestCreateDataset verifies a rule set is stored and a labeled dataset returned
func TestCreateDataset(t *testing.T) {
	s := newTestServer(t)

	resp := createDataset(t, s, map[string]any{
		"name":    "puntaje medio",
		"rules":   map[string]any{"puntaje": map[string]any{"1": []int{50, 60}}},
		"samples": 100,
		"noise":   0,
		"seed":    42,
	})

	assert.NotEmpty(t, resp.RuleSetID)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, 100, resp.Rows)
	assert.Equal(t, 100, resp.Distribution.Total())
	assert.Len(t, resp.Preview, config.Default().PreviewRows)
	assert.Contains(t, resp.Message, "100")

	for _, rec := range resp.Preview {
		switch {
		case rec.Score < 50:
			assert.Equal(t, rules.LabelLow, rec.FuturePerformance)
		case rec.Score > 60:
			assert.Equal(t, rules.LabelHigh, rec.FuturePerformance)
		default:
			assert.Equal(t, rules.LabelMedium, rec.FuturePerformance)
		}
	}
}

// TestCreateDataset_Seeded verifies the same seed reproduces the same dataset
func TestCreateDataset_Seeded(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{
		"rules":   map[string]any{"horas_extra": map[string]any{"0": []int{0, 5}, "2": []int{15, 20}}},
		"samples": 50,
		"seed":    7,
	}

	first := createDataset(t, s, body)
	second := createDataset(t, s, body)

	assert.NotEqual(t, first.RuleSetID, second.RuleSetID)
	assert.Equal(t, first.Distribution, second.Distribution)
	assert.Equal(t, first.Preview, second.Preview)
}

// TestCreateDataset_CSV verifies datasets can be downloaded as CSV
func TestCreateDataset_CSV(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/datasets?format=csv", map[string]any{
		"rules":   map[string]any{"puntaje": map[string]any{"1": []int{50, 60}}},
		"samples": 10,
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.NotEmpty(t, w.Header().Get("X-Rule-Set-Id"))

	lines, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 11)
	assert.Equal(t, rules.Columns, lines[0])
}

// TestCreateDataset_Invalid verifies bad requests are rejected with 400
func TestCreateDataset_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"malformed json", `{"rules": `},
		{"missing rules", map[string]any{"samples": 10}},
		{"rules not object", map[string]any{"rules": []int{1, 2}}},
		{"negative samples", map[string]any{"rules": map[string]any{}, "samples": -5}},
		{"noise above one", map[string]any{"rules": map[string]any{}, "noise": 1.5}},
		{"bad derived name", map[string]any{
			"rules":   map[string]any{},
			"derived": []map[string]any{{"name": "puntaje", "expression": "1"}},
		}},
		{"bad expression", map[string]any{
			"rules":   map[string]any{},
			"derived": []map[string]any{{"name": "carga", "expression": "horas_extra *"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := doRequest(t, s, http.MethodPost, "/api/v1/datasets", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, "body: %s", w.Body.String())

			resp := decodeBody[ErrorResponse](t, w)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// TestCreateDataset_FieldErrors verifies document errors list the offending fields
func TestCreateDataset_FieldErrors(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/datasets", map[string]any{
		"rules":   []int{50, 60},
		"derived": []map[string]any{{"name": "in", "expression": "1"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeBody[ErrorResponse](t, w)
	fields := make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Field)
	}
	assert.Contains(t, fields, "rules")
	assert.Contains(t, fields, "derived[0].name")
}

// TestCreateDataset_MalformedEntrySkipped verifies a bad attribute entry is
// skipped and reported while the rest of the document is used
func TestCreateDataset_MalformedEntrySkipped(t *testing.T) {
	s := newTestServer(t)

	created := createDataset(t, s, map[string]any{
		"rules": map[string]any{
			"puntaje":     map[string]any{"1": []int{50, 60}},
			"bogus":       5,
			"vacio":       map[string]any{},
			"horas extra": map[string]any{"1": []int{0, 5}},
		},
		"samples": 5,
	})
	assert.Equal(t, 5, created.Rows)

	w := doRequest(t, s, http.MethodGet, "/api/v1/rulesets/"+created.RuleSetID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Attributes []string    `json:"attributes"`
		Issues     []RuleIssue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.ElementsMatch(t, []string{"puntaje", "horas extra"}, got.Attributes)

	skipped := make([]string, 0, len(got.Issues))
	for _, issue := range got.Issues {
		skipped = append(skipped, issue.Attribute)
	}
	assert.ElementsMatch(t, []string{"bogus", "vacio"}, skipped)
}

// TestRuleSetLifecycle verifies list, get, regenerate, runs and delete
func TestRuleSetLifecycle(t *testing.T) {
	s := newTestServer(t)

	created := createDataset(t, s, map[string]any{
		"name": "temporada",
		"rules": json.RawMessage(`{
			"puntaje": {"1": [50, 60]},
			"asistencia_puntualidad": {"2": [90, 100], "0": "fuera de rango"}
		}`),
		"samples": 20,
	})
	id := created.RuleSetID
	base := "/api/v1/rulesets/" + id

	w := doRequest(t, s, http.MethodGet, "/api/v1/rulesets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[RuleSetsListResponse](t, w)
	require.Len(t, list.RuleSets, 1)
	assert.Equal(t, id, list.RuleSets[0].ID)
	assert.Equal(t, "temporada", list.RuleSets[0].Name)
	assert.Equal(t, 2, list.RuleSets[0].Attributes)

	w = doRequest(t, s, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		ID         string          `json:"id"`
		Rules      json.RawMessage `json:"rules"`
		Attributes []string        `json:"attributes"`
		Issues     []RuleIssue     `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, []string{"puntaje", "asistencia_puntualidad"}, got.Attributes)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "asistencia_puntualidad", got.Issues[0].Attribute)

	w = doRequest(t, s, http.MethodPost, base+"/datasets", map[string]any{"samples": 5, "seed": 1})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	regenerated := decodeBody[DatasetResponse](t, w)
	assert.Equal(t, 5, regenerated.Rows)

	w = doRequest(t, s, http.MethodGet, base+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decodeBody[RunsListResponse](t, w)
	require.Len(t, runs.Runs, 2)
	assert.Equal(t, regenerated.RunID, runs.Runs[0].ID)

	w = doRequest(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	for _, path := range []string{base, base + "/runs"} {
		w = doRequest(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w = doRequest(t, s, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestListRuleSets_Empty verifies an empty store lists as an empty array
func TestListRuleSets_Empty(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/rulesets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ruleSets": []}`, w.Body.String())
}

// TestGenerate_UnknownRuleSet verifies regenerating a missing rule set is a 404
func TestGenerate_UnknownRuleSet(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/rulesets/nope/datasets", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestClassify verifies records are labeled with a specific rule set
func TestClassify(t *testing.T) {
	s := newTestServer(t)
	created := createDataset(t, s, map[string]any{
		"rules": map[string]any{
			"puntaje":    map[string]any{"1": []int{50, 60}},
			"desempenio": map[string]any{"0": []int{0, 0}, "1": []int{1, 1}, "2": []int{2, 2}},
		},
		"samples": 1,
	})

	w := doRequest(t, s, http.MethodPost, "/api/v1/rulesets/"+created.RuleSetID+"/classify", map[string]any{
		"records": []map[string]any{
			{"puntaje": 55, "desempenio": "medio"},
			{"puntaje": 95, "desempenio": "high"},
			{"puntaje": 95},
		},
		"seed": 3,
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	result := decodeBody[rulesets.ClassifyResult](t, w)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "medio", result.Records[0].Name)
	assert.Equal(t, "alto", result.Records[1].Name)
	assert.Equal(t, []string{"desempenio"}, result.Records[2].Missing)
	assert.Equal(t, 3, result.Distribution.Total())
	require.NotNil(t, result.Run)
	assert.Equal(t, rules.RunClassify, result.Run.Kind)
}

// TestClassifyLatest verifies the newest rule set is used by default
func TestClassifyLatest(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/classify", map[string]any{
		"records": []map[string]any{{"puntaje": 55}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	createDataset(t, s, map[string]any{
		"rules":   map[string]any{"puntaje": map[string]any{"0": []int{0, 100}}},
		"samples": 1,
	})
	latest := createDataset(t, s, map[string]any{
		"rules":   map[string]any{"puntaje": map[string]any{"2": []int{0, 100}}},
		"samples": 1,
	})

	w = doRequest(t, s, http.MethodPost, "/api/v1/classify", map[string]any{
		"records": []map[string]any{{"puntaje": 55}},
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	result := decodeBody[rulesets.ClassifyResult](t, w)
	assert.Equal(t, latest.RuleSetID, result.RuleSetID)
	assert.Equal(t, rules.LabelHigh, result.Records[0].Label)
}

// TestClassify_Invalid verifies empty record lists and bad noise are rejected
func TestClassify_Invalid(t *testing.T) {
	s := newTestServer(t)
	created := createDataset(t, s, map[string]any{
		"rules":   map[string]any{"puntaje": map[string]any{"1": []int{50, 60}}},
		"samples": 1,
	})
	path := "/api/v1/rulesets/" + created.RuleSetID + "/classify"

	w := doRequest(t, s, http.MethodPost, path, map[string]any{"records": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPost, path, map[string]any{
		"records": []map[string]any{{"puntaje": 55}},
		"noise":   -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestMetrics verifies the Prometheus endpoint is mounted
func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	createDataset(t, s, map[string]any{
		"rules":   map[string]any{"puntaje": map[string]any{"1": []int{50, 60}}},
		"samples": 3,
	})

	w := doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "perfrules_runs_total"), "metrics output missing runs counter")
}
