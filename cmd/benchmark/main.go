package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/tokenledger/internal/models"
	"github.com/punchamoorthee/tokenledger/internal/spoynt"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duplicates  int
	refsFile    string
	secret      string
	testMode    bool
	status      string
)

// Metrics
var (
	totalRequests uint64
	credited      uint64 // outcome=completed, must equal the number of references
	replayed      uint64 // acknowledged no-ops
	fail4xx       uint64
	fail5xx       uint64 // conflicts surface as 503 and are retryable
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&duplicates, "dup", 5, "Deliveries of the same notification per reference")
	flag.StringVar(&refsFile, "refs", "refs.txt", "File with one reference_id per line, written by the seeder")
	flag.StringVar(&secret, "secret", os.Getenv("SPOYNT_LIVE_SECRET"), "Webhook signing secret")
	flag.BoolVar(&testMode, "test-mode", false, "Send notifications flagged as test mode")
	flag.StringVar(&status, "status", "processed", "Gateway status to deliver")
}

type delivery struct {
	body      []byte
	signature string
}

func main() {
	flag.Parse()

	refs, err := loadRefs(refsFile)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("Starting Benchmark: %d references x %d deliveries | Workers: %d", len(refs), duplicates, concurrency)

	jobs := make(chan delivery, concurrency)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, jobs)
	}

	// Interleave duplicates so identical notifications race each other.
	for d := 0; d < duplicates; d++ {
		for i, ref := range refs {
			jobs <- buildDelivery(i, ref)
		}
	}
	close(jobs)

	wg.Wait()
	printResults(time.Since(start), len(refs))
}

func loadRefs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open references: %w", err)
	}
	defer f.Close()

	var refs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if ref := strings.TrimSpace(sc.Text()); ref != "" {
			refs = append(refs, ref)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no references in %s", path)
	}
	return refs, nil
}

func buildDelivery(i int, ref string) delivery {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"id": fmt.Sprintf("bench-ext-%d", i),
			"attributes": map[string]interface{}{
				"reference_id": ref,
				"status":       status,
				"test_mode":    testMode,
			},
		},
	}
	body, _ := json.Marshal(payload)
	return delivery{body: body, signature: spoynt.Sign(secret, body)}
}

func worker(wg *sync.WaitGroup, jobs <-chan delivery) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for job := range jobs {
		req, _ := http.NewRequest("POST", targetURL+"/api/v1/webhooks/spoynt", bytes.NewReader(job.body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(spoynt.SignatureHeader, job.signature)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK:
			var ack models.WebhookAck
			if json.NewDecoder(resp.Body).Decode(&ack) == nil && ack.Outcome == "completed" {
				atomic.AddUint64(&credited, 1)
			} else {
				atomic.AddUint64(&replayed, 1)
			}
		case resp.StatusCode >= 500:
			atomic.AddUint64(&fail5xx, 1)
		case resp.StatusCode >= 400:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration, references int) {
	total := atomic.LoadUint64(&totalRequests)
	c := atomic.LoadUint64(&credited)
	r := atomic.LoadUint64(&replayed)
	f4 := atomic.LoadUint64(&fail4xx)
	f5 := atomic.LoadUint64(&fail5xx)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"references":       references,
		"duplicates":       duplicates,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_rps":   float64(total) / d.Seconds(),
		"credited":         c,
		"acknowledged":     r,
		"client_errors":    f4,
		"server_errors":    f5,
		"transport_errors": fErr,
		"exactly_once":     c <= uint64(references),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	file, err := os.Create("results_webhooks.json")
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
