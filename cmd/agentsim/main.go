package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Malilyqueen/max-crm-sub003/internal/sim"
)

func main() {
	var (
		baseURL     = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers     = flag.Int("workers", 4, "Concurrent agent worker count")
		duration    = flag.Duration("duration", 2*time.Minute, "Duration of the simulation")
		mode        = flag.String("mode", "autonomous", "Mode the agent requests per action (assisted or autonomous)")
		setMode     = flag.String("set-mode", "", "Escalate the global mode before the run (requires admin)")
		openAIModel = flag.String("openai-model", "gpt-4o-mini", "OpenAI model for summaries (optional)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Printf("Launching agent simulation: base=%s workers=%d duration=%s mode=%s", *baseURL, *workers, *duration, *mode)

	client := &http.Client{Timeout: 10 * time.Second}
	generator := sim.NewGenerator(time.Now().UnixNano())

	agentToken, err := issueToken(ctx, client, *baseURL, "sim-agent", generator.Tenant(), []string{"manager"})
	if err != nil {
		log.Fatalf("issue agent token: %v", err)
	}

	if *setMode != "" {
		adminToken, err := issueToken(ctx, client, *baseURL, "sim-admin", generator.Tenant(), []string{"admin"})
		if err != nil {
			log.Fatalf("issue admin token: %v", err)
		}
		if err := escalateMode(ctx, client, *baseURL, adminToken, *setMode); err != nil {
			log.Fatalf("set mode: %v", err)
		}
		log.Printf("Global mode set to %s", *setMode)
	}

	counter := sim.NewCounter()
	started := time.Now()

	var wg sync.WaitGroup
	deadline := started.Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			w := worker{
				client:  client,
				baseURL: *baseURL,
				token:   agentToken,
				mode:    *mode,
				counter: counter,
			}
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				w.attempt(ctx, generator.NextAttempt())
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	s := counter.Snapshot()
	log.Printf("Run complete: executed=%d (replays=%d) denied=%d by reason %v consents=%d transport_failures=%d",
		s.Executed, s.Replayed, s.DeniedTotal, s.Denied, s.Consents, s.Failures)

	if key := os.Getenv("OPENAI_API_KEY"); key != "" && s.Executed+s.DeniedTotal > 0 {
		summary, err := sim.Summarize(ctx, s, *duration, sim.SummaryRequest{APIKey: key, Model: *openAIModel})
		if err != nil {
			log.Printf("AI summary error: %v", err)
		} else {
			log.Println("AI Executive Summary:")
			log.Println(summary)
		}
	} else {
		log.Println("Set OPENAI_API_KEY to enable AI narrative summaries.")
	}
}

type worker struct {
	client  *http.Client
	baseURL string
	token   string
	mode    string
	counter *sim.Counter
}

// attempt posts one action. A 412 means the action needs human consent; the
// worker plays both sides, requesting and approving a consent, then retries
// once with the consent id.
func (w worker) attempt(ctx context.Context, a sim.Attempt) {
	status, body, err := w.postAction(ctx, a, "")
	if err != nil {
		w.counter.AddFailure()
		return
	}
	if status == http.StatusPreconditionFailed {
		consentID, err := w.obtainConsent(ctx, a)
		if err != nil {
			w.counter.AddFailure()
			return
		}
		w.counter.AddConsent()
		status, body, err = w.postAction(ctx, a, consentID)
		if err != nil {
			w.counter.AddFailure()
			return
		}
	}
	w.record(status, body)
}

func (w worker) record(status int, body []byte) {
	if status == http.StatusOK {
		var out struct {
			Replayed bool `json:"replayed"`
		}
		_ = json.Unmarshal(body, &out)
		w.counter.AddExecuted(out.Replayed)
		return
	}
	var out struct {
		Error   string    `json:"error"`
		ResetAt time.Time `json:"reset_at"`
	}
	_ = json.Unmarshal(body, &out)
	w.counter.AddDenied(out.Error)
	if status == http.StatusTooManyRequests {
		time.Sleep(250 * time.Millisecond)
	}
}

func (w worker) postAction(ctx context.Context, a sim.Attempt, consentID string) (int, []byte, error) {
	payload := map[string]any{
		"mode":   w.mode,
		"params": a.Params,
	}
	if consentID != "" {
		payload["consent_id"] = consentID
	}
	return w.post(ctx, "/v1/actions/"+a.Code, payload)
}

func (w worker) obtainConsent(ctx context.Context, a sim.Attempt) (string, error) {
	status, body, err := w.post(ctx, "/v1/consents", map[string]any{
		"type":        a.Code,
		"description": fmt.Sprintf("simulated %s run", a.Code),
		"details":     a.Params,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("consent create: status %d", status)
	}
	var out struct {
		ConsentID string `json:"consent_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.ConsentID == "" {
		return "", errors.New("no consent id returned")
	}
	status, _, err = w.post(ctx, "/v1/consents/"+out.ConsentID+"/approve", nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("consent approve: status %d", status)
	}
	return out.ConsentID, nil
}

func (w worker) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, buf.Bytes(), nil
}

func issueToken(ctx context.Context, client *http.Client, baseURL, user, tenant string, roles []string) (string, error) {
	payload := map[string]any{
		"user":   user,
		"tenant": tenant,
		"roles":  roles,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}

func escalateMode(ctx context.Context, client *http.Client, baseURL, token, mode string) error {
	body, _ := json.Marshal(map[string]string{"mode": mode})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/mode", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mode endpoint: %s", resp.Status)
	}
	return nil
}
