package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/liamcoop/perfrules/internal/logger"
	"github.com/liamcoop/perfrules/rules"
	"github.com/liamcoop/perfrules/rulesets"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "perfsim",
	Short: "Rule-driven performance label simulation",
	Long: "perfsim turns an analyst's scoring rules into labeled synthetic training data " +
		"and labels real employee records with the same rules.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var logLevel string

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if logLevel == "" {
			logLevel = os.Getenv("LOG_LEVEL")
		}
		return logger.Configure(logLevel, 0)
	}
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		printJSON(map[string]string{"error": err.Error()})
		os.Exit(1)
	}
}

// loadEngine reads a rule document, optionally wrapped as {"rules": ..., "derived": [...]}
func loadEngine(path string) (*rules.Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rs := &rules.RuleSet{Document: data}
	var wrapped struct {
		Rules   json.RawMessage      `json:"rules"`
		Derived []rules.DerivedField `json:"derived"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && isDocument(wrapped.Rules) {
		rs.Document = wrapped.Rules
		rs.Derived = wrapped.Derived
	}

	if err := rulesets.ValidateRuleSet(rs.Document, rs.Derived); err != nil {
		return nil, err
	}
	compiled, err := rulesets.Compile(rs)
	if err != nil {
		return nil, err
	}
	logger.Debug("rules loaded", "path", path, "attributes", compiled.Engine.Schema().Names())
	return compiled.Engine, nil
}

// isDocument reports whether raw is an object of attribute objects, which
// tells a wrapped file apart from a document with an attribute named "rules"
func isDocument(raw json.RawMessage) bool {
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return false
	}
	for _, v := range attrs {
		var classes map[string]json.RawMessage
		if err := json.Unmarshal(v, &classes); err != nil {
			return false
		}
	}
	return true
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}
