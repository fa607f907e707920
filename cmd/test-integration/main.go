package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/seanankenbruck/finance-ai/internal/processor"
)

// Runs questions against a running query-processor. Set FINANCE_AI_URL and
// either FINANCE_AI_API_KEY or FINANCE_AI_TOKEN.
func main() {
	fmt.Println("=== Answer API Integration Test ===")

	baseURL := getEnv("FINANCE_AI_URL", "http://localhost:8080")
	client := &http.Client{Timeout: 60 * time.Second}

	if err := checkHealth(client, baseURL); err != nil {
		log.Fatalf("Service is not healthy: %v", err)
	}
	fmt.Println("✓ Service healthy")

	tests := []struct {
		name     string
		question string
		template bool
	}{
		{name: "Total this month", question: "how much did I spend this month", template: true},
		{name: "Spanish, last month by category", question: "gastos por categoría del mes pasado", template: true},
		{name: "Top expenses", question: "top 5 expenses this month"},
		{name: "Month comparison", question: "compare june vs july"},
		{name: "Write attempt", question: "delete all my expenses"},
	}

	var answered, clarified int
	var totalTime time.Duration

	for i, test := range tests {
		fmt.Printf("\n%d. %s\n   Question: %q\n", i+1, test.name, test.question)

		start := time.Now()
		answer, status, err := ask(client, baseURL, test.question)
		elapsed := time.Since(start)
		totalTime += elapsed
		if err != nil {
			fmt.Printf("   ✗ request failed (%d): %v\n", status, err)
			continue
		}

		if answer.Clarification != nil {
			clarified++
			fmt.Printf("   ? %s: %s\n", answer.Clarification.Kind, answer.Clarification.Message)
			continue
		}

		answered++
		fmt.Printf("   ✓ %s (%s %s, confidence %.2f, %d rows, %s)\n", answer.Facts.Summary,
			answer.Metadata.Provenance, answer.Metadata.TemplateID, answer.Metadata.Confidence,
			answer.Metadata.RowCount, elapsed.Round(time.Millisecond))
		if test.template && answer.Metadata.Provenance != "template" {
			fmt.Println("   ! expected a template answer")
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Printf("Answered: %d, clarified: %d, of %d\n", answered, clarified, len(tests))
	fmt.Printf("Average time: %s\n", (totalTime / time.Duration(len(tests))).Round(time.Millisecond))
}

func ask(client *http.Client, baseURL, question string) (*processor.Answer, int, error) {
	body, err := json.Marshal(processor.AnswerRequest{Question: question})
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/v1/answer", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("FINANCE_AI_API_KEY"); key != "" {
		req.Header.Set("X-API-Key", key)
	} else if token := os.Getenv("FINANCE_AI_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody map[string]interface{}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, resp.StatusCode, fmt.Errorf("%v", errBody["error"])
	}

	var answer processor.Answer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode answer: %w", err)
	}
	return &answer, resp.StatusCode, nil
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned %d", resp.StatusCode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
