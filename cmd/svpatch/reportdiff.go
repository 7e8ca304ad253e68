package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// dynamicReportKeys are stripped before comparing two run reports: fields
// that legitimately differ between two otherwise-identical runs.
var dynamicReportKeys = map[string]bool{
	"duration_ms":   true,
	"summary_path":  true,
	"started_at":    true,
	"finished_at":   true,
	"run_id":        true,
	"change_id":     true,
	"parent_run_id": true,
	"run_path":      true,
	"manifest_path": true,
	"report_path":   true,
}

func normalizeReportValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, sub := range t {
			if dynamicReportKeys[k] {
				continue
			}
			if k == "artifacts" {
				if _, ok := sub.(map[string]interface{}); ok {
					continue
				}
			}
			out[k] = normalizeReportValue(sub)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, sub := range t {
			out[i] = normalizeReportValue(sub)
		}
		return out
	default:
		return v
	}
}

var (
	reportdiffBaseline  string
	reportdiffCandidate string
)

var reportdiffCmd = &cobra.Command{
	Use:   "reportdiff",
	Short: "Compare two run reports, ignoring run-local dynamic fields",
	Long: `reportdiff loads two JSON run reports, strips fields that are
expected to differ between runs of the same pipeline (run ids, change ids,
timestamps, durations, artifact paths), and reports whether what remains
is identical.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseline, err := loadReportJSON(reportdiffBaseline)
		if err != nil {
			return fmt.Errorf("failed to read baseline report: %w", err)
		}
		candidate, err := loadReportJSON(reportdiffCandidate)
		if err != nil {
			return fmt.Errorf("failed to read candidate report: %w", err)
		}

		nb := normalizeReportValue(baseline)
		nc := normalizeReportValue(candidate)

		if reportValuesEqual(nb, nc) {
			fmt.Println("MATCH")
			return nil
		}

		fmt.Println("MISMATCH")
		out, err := json.MarshalIndent(map[string]interface{}{
			"baseline":  nb,
			"candidate": nc,
		}, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return fmt.Errorf("reports differ")
	},
}

func init() {
	reportdiffCmd.Flags().StringVar(&reportdiffBaseline, "baseline", "", "Baseline report JSON path (required)")
	reportdiffCmd.Flags().StringVar(&reportdiffCandidate, "candidate", "", "Candidate report JSON path (required)")
	reportdiffCmd.MarkFlagRequired("baseline")
	reportdiffCmd.MarkFlagRequired("candidate")
	rootCmd.AddCommand(reportdiffCmd)
}

func loadReportJSON(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// reportValuesEqual compares two normalized JSON values structurally.
// encoding/json.Marshal always emits map[string]interface{} keys in sorted
// order, so two structurally-equal values marshal to byte-identical JSON
// regardless of Go's randomized map iteration order; slice order is
// preserved.
func reportValuesEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}
