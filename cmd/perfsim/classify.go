package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/liamcoop/perfrules/rules"
	"github.com/spf13/cobra"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label real employee records with a rules file",
	Long: "Classify reads records from a CSV or JSON file and prints them as JSON with desempenio_futuro " +
		"set to bajo, medio or alto. Rule attributes a record cannot be scored on are listed per record.",
	RunE: runClassify,
}

var (
	clsRulesFile string
	clsInFile    string
	clsNoise     float64
	clsSeed      uint64
)

func init() {
	classifyCmd.Flags().StringVarP(&clsRulesFile, "rules", "r", "", "Path to rules JSON file (required)")
	classifyCmd.Flags().StringVarP(&clsInFile, "in", "i", "", "Path to records, .csv or .json (required)")
	classifyCmd.Flags().Float64Var(&clsNoise, "noise", 0, "Probability of resampling each label")
	classifyCmd.Flags().Uint64Var(&clsSeed, "seed", 0, "Random seed (random when unset)")
	_ = classifyCmd.MarkFlagRequired("rules")
	_ = classifyCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, _ []string) error {
	if err := rules.ValidateNoise(clsNoise); err != nil {
		return err
	}

	engine, err := loadEngine(clsRulesFile)
	if err != nil {
		return err
	}

	records, err := readRecords(clsInFile)
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if cmd.Flags().Changed("seed") {
		rng = rules.NewRand(clsSeed)
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		c, missing := engine.LabelRecord(rng, rec, clsNoise)
		labeled := displayRecord(rec)
		labeled[rules.FieldFuturePerformance] = c.Label.String()
		if len(missing) > 0 {
			labeled["atributos_faltantes"] = missing
		}
		out = append(out, labeled)
	}

	printJSON(out)
	return nil
}

// displayRecord copies rec with numeric categorical codes turned back into names
func displayRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec)+1)
	for k, v := range rec {
		out[k] = v
		if !rules.IsCategorical(k) {
			continue
		}
		if f, ok := rules.ToNumber(v); ok && f == float64(int(f)) {
			if name, ok := rules.Decode(k, int(f)); ok {
				out[k] = name
			}
		}
	}
	return out
}

func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSVRecords(f)
	case ".json":
		var records []map[string]any
		dec := json.NewDecoder(f)
		dec.UseNumber()
		if err := dec.Decode(&records); err != nil {
			return nil, fmt.Errorf("records file must be a JSON array of objects: %w", err)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("unsupported records file %q, use .csv or .json", path)
	}
}

func readCSVRecords(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records []map[string]any
	for {
		line, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(records)+1, err)
		}
		rec := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(line) && line[i] != "" {
				rec[strings.TrimSpace(col)] = line[i]
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
