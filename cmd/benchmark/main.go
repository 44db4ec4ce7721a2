// Benchmark tool for replaying labeled case data against a running engine.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/cases.csv -ruleset rs-001 -url http://localhost:8080
//
// The CSV must have a "case_id" column, a "label" column holding the expected
// outcome (eligible or not_eligible), and one column per fact key. For each
// row the tool appends the facts, requests an evaluation, and compares the
// deterministic rule verdict with the label.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledCase is one row of the benchmark dataset.
type LabeledCase struct {
	CaseID   string
	Label    string
	Facts    map[string]any
	Eligible bool
}

// FactRequest matches the engine's fact endpoint.
type FactRequest struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

// EvaluateRequest matches the engine's evaluate endpoint.
type EvaluateRequest struct {
	CaseID    string `json:"caseId"`
	RuleSetID string `json:"ruleSetId"`
	AsOf      string `json:"asOf,omitempty"`
}

// EvaluateResponse is the subset of the combined result the tool inspects.
type EvaluateResponse struct {
	ID             string  `json:"id"`
	Outcome        string  `json:"outcome"`
	Confidence     float64 `json:"confidence"`
	RequiresReview bool    `json:"requiresReview"`
	Rule           struct {
		Outcome    string  `json:"outcome"`
		Confidence float64 `json:"confidence"`
	} `json:"rule"`
}

// Metrics tracks benchmark results against the labels.
type Metrics struct {
	TruePositives  int64 // Eligible predicted eligible
	FalsePositives int64 // Not eligible predicted eligible
	TrueNegatives  int64 // Not eligible predicted not_eligible
	FalseNegatives int64 // Eligible predicted not_eligible
	Reviews        int64 // Rule verdict was requires_review (excluded from the matrix)
	Escalated      int64 // Combined decision escalated to human review

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled case CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Engine base URL")
	ruleSetID := flag.String("ruleset", "", "Rule set ID to evaluate against")
	asOf := flag.String("asof", "", "Evaluation date (YYYY-MM-DD, empty = now)")
	limit := flag.Int("limit", 10000, "Maximum cases to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" || *ruleSetID == "" {
		fmt.Println("Usage: benchmark -csv /path/to/cases.csv -ruleset rs-001 [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("Eligibility Benchmark")
	fmt.Printf("\nCSV File:   %s\n", *csvPath)
	fmt.Printf("Engine URL: %s\n", *baseURL)
	fmt.Printf("Rule Set:   %s\n", *ruleSetID)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Limit:      %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: engine not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the engine is running:")
		fmt.Println("  go run cmd/eligibility/main.go")
		os.Exit(1)
	}
	fmt.Println("engine is healthy")

	fmt.Printf("\nReading cases from %s...\n", *csvPath)
	cases, err := readCaseCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d cases\n", len(cases))

	eligibleCount := 0
	for _, c := range cases {
		if c.Eligible {
			eligibleCount++
		}
	}
	fmt.Printf("  - eligible:     %d (%.2f%%)\n", eligibleCount, 100*float64(eligibleCount)/float64(len(cases)))
	fmt.Printf("  - not eligible: %d (%.2f%%)\n", len(cases)-eligibleCount, 100*float64(len(cases)-eligibleCount)/float64(len(cases)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(cases, *baseURL, *ruleSetID, *asOf, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readCaseCSV parses the labeled dataset. Numeric and boolean fact values are
// coerced so expressions can compare them without string casts.
func readCaseCSV(path string, limit int) ([]LabeledCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	caseCol, ok := colIndex["case_id"]
	if !ok {
		return nil, fmt.Errorf("missing case_id column")
	}
	labelCol, ok := colIndex["label"]
	if !ok {
		return nil, fmt.Errorf("missing label column")
	}

	var cases []LabeledCase
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		label := strings.ToLower(strings.TrimSpace(record[labelCol]))
		if label != "eligible" && label != "not_eligible" {
			continue
		}

		facts := make(map[string]any)
		for col, idx := range colIndex {
			if idx == caseCol || idx == labelCol || idx >= len(record) {
				continue
			}
			facts[col] = coerceValue(record[idx])
		}

		cases = append(cases, LabeledCase{
			CaseID:   record[caseCol],
			Label:    label,
			Facts:    facts,
			Eligible: label == "eligible",
		})

		if limit > 0 && len(cases) >= limit {
			break
		}
	}

	return cases, nil
}

func coerceValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func runBenchmark(cases []LabeledCase, baseURL, ruleSetID, asOf string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledCase, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for c := range work {
				start := time.Now()
				result, err := evaluateCase(client, baseURL, ruleSetID, asOf, c)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.CaseID, err)
					}
					continue
				}

				if result.RequiresReview {
					atomic.AddInt64(&metrics.Escalated, 1)
				}

				// The deterministic rule verdict is what the labels grade;
				// the combined outcome folds in the AI side.
				switch result.Rule.Outcome {
				case "eligible":
					if c.Eligible {
						atomic.AddInt64(&metrics.TruePositives, 1)
					} else {
						atomic.AddInt64(&metrics.FalsePositives, 1)
					}
				case "not_eligible":
					if c.Eligible {
						atomic.AddInt64(&metrics.FalseNegatives, 1)
					} else {
						atomic.AddInt64(&metrics.TrueNegatives, 1)
					}
				default:
					atomic.AddInt64(&metrics.Reviews, 1)
				}

				if verbose {
					status := "ok"
					if (result.Rule.Outcome == "eligible") != c.Eligible {
						status = "MISS"
					}
					fmt.Printf("%-4s %-12s | label: %-12s | rule: %-15s (%.2f) | review: %v\n",
						status,
						c.CaseID,
						c.Label,
						result.Rule.Outcome,
						result.Rule.Confidence,
						result.RequiresReview,
					)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateCase(client *http.Client, baseURL, ruleSetID, asOf string, c LabeledCase) (*EvaluateResponse, error) {
	// Seed the facts first; the engine reads the latest value per key.
	for key, value := range c.Facts {
		if err := appendFact(client, baseURL, c.CaseID, key, value); err != nil {
			return nil, fmt.Errorf("failed to append fact %s: %w", key, err)
		}
	}

	req := EvaluateRequest{
		CaseID:    c.CaseID,
		RuleSetID: ruleSetID,
		AsOf:      asOf,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func appendFact(client *http.Client, baseURL, caseID, key string, value any) error {
	body, err := json.Marshal(FactRequest{Key: key, Value: value, Source: "user"})
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/cases/"+caseID+"/facts", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Rule Reviews:     %d (excluded from the matrix)\n", m.Reviews)
	fmt.Printf("   Escalated:        %d\n", m.Escalated)

	fmt.Printf("\nCONFUSION MATRIX (rule verdict vs label)\n")
	fmt.Println("                          Predicted")
	fmt.Println("                    eligible  not_eligible")
	fmt.Printf("   Actual   E       %8d      %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           NE       %8d      %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nAGREEMENT METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		cps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f cases/sec\n", cps)
	}

	fmt.Println()
}
