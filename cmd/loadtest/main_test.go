package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		input   string
		want    loadMode
		wantErr bool
	}{
		{input: "cart", want: modeCart},
		{input: " checkout ", want: modeCheckout},
		{input: "checkout-replay", want: modeCheckoutReplay},
		{input: "pay", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := parseMode(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMode(%q): expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMode(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMode(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	withCLIArgs(t, nil, func() {
		cfg, err := parseConfig()
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.baseURL != "http://localhost:8080" {
			t.Errorf("unexpected base URL: %s", cfg.baseURL)
		}
		if cfg.mode != modeCheckout {
			t.Errorf("unexpected mode: %s", cfg.mode)
		}
		if cfg.total != 400 || cfg.totalSet {
			t.Errorf("unexpected total: %d (set=%v)", cfg.total, cfg.totalSet)
		}
		if cfg.unitPrice.String() != "2499" {
			t.Errorf("unexpected unit price: %s", cfg.unitPrice)
		}
	})
}

func TestParseConfig_Overrides(t *testing.T) {
	withCLIArgs(t, []string{
		"-url=http://localhost:9999",
		"-mode=checkout-replay",
		"-total=10",
		"-concurrency=2",
		"-timeout=1s",
		"-unit-price=10.50",
		"-qty=3",
	}, func() {
		cfg, err := parseConfig()
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.mode != modeCheckoutReplay {
			t.Errorf("unexpected mode: %s", cfg.mode)
		}
		if !cfg.totalSet || cfg.total != 10 {
			t.Errorf("unexpected total: %d (set=%v)", cfg.total, cfg.totalSet)
		}
		if cfg.unitPrice.String() != "10.5" {
			t.Errorf("unexpected unit price: %s", cfg.unitPrice)
		}
		if cfg.qty != 3 {
			t.Errorf("unexpected qty: %d", cfg.qty)
		}
	})
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := [][]string{
		{"-total=0"},
		{"-concurrency=0"},
		{"-timeout=0s"},
		{"-qty=0"},
		{"-unit-price=-1"},
		{"-unit-price=abc"},
		{"-currency="},
		{"-product="},
		{"-session-tag="},
		{"-url="},
	}

	for _, args := range cases {
		withCLIArgs(t, args, func() {
			if _, err := parseConfig(); err == nil {
				t.Errorf("expected error for args %v", args)
			}
		})
	}
}

func TestDispatchJobs_CountMode(t *testing.T) {
	jobs := make(chan int, 16)
	dispatchJobs(jobs, config{total: 5})

	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(got))
	}
}

func TestDispatchJobs_DurationMode(t *testing.T) {
	jobs := make(chan int, 1024)
	done := make(chan struct{})

	var count int
	var mu sync.Mutex
	go func() {
		defer close(done)
		for range jobs {
			mu.Lock()
			count++
			mu.Unlock()
		}
	}()

	dispatchJobs(jobs, config{duration: 50 * time.Millisecond})
	<-done

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Fatal("expected at least one job in duration mode")
	}
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record("scenario", 10*time.Millisecond, http.StatusOK)
	col.record("scenario", 30*time.Millisecond, http.StatusInternalServerError)
	col.record("Checkout", 5*time.Millisecond, http.StatusCreated)
	col.record("Checkout", 7*time.Millisecond, 0)

	result := col.buildReport(time.Now(), time.Second)

	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counters: %+v", result)
	}
	if result.ErrorRate != 0.5 {
		t.Errorf("unexpected error rate: %f", result.ErrorRate)
	}
	if result.RPS != 2 {
		t.Errorf("unexpected rps: %f", result.RPS)
	}

	checkout, ok := result.Methods["Checkout"]
	if !ok {
		t.Fatal("Checkout method missing from report")
	}
	if checkout.Codes["201"] != 1 || checkout.Codes["transport_error"] != 1 {
		t.Errorf("unexpected checkout codes: %v", checkout.Codes)
	}
}

func TestPercentileAndSummary(t *testing.T) {
	if got := percentile(nil, 95); got != 0 {
		t.Errorf("percentile(nil) = %f", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Errorf("percentile(single) = %f", got)
	}

	summary := buildLatencySummary([]float64{1, 2, 3, 4})
	if summary.Min != 1 || summary.Max != 4 {
		t.Errorf("unexpected min/max: %+v", summary)
	}
	if summary.Avg != 2.5 {
		t.Errorf("unexpected avg: %f", summary.Avg)
	}

	if got := ratio(1, 0); got != 0 {
		t.Errorf("ratio with zero total = %f", got)
	}
	if got := ratio(1, 4); got != 0.25 {
		t.Errorf("ratio = %f", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	result := report{TotalScenarios: 3}
	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 3 {
		t.Errorf("unexpected total scenarios: %d", decoded.TotalScenarios)
	}

	if err := writeJSONReport(".", result); err == nil {
		t.Error("expected error for directory path")
	}
	if err := writeJSONReport("../escape.json", result); err == nil {
		t.Error("expected error for path outside current directory")
	}
}

// fakeAPI эмулирует cart/checkout эндпоинты сервиса, включая replay по
// Idempotency-Key.
type fakeAPI struct {
	mu        sync.Mutex
	addCalls  int
	checkouts map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{checkouts: make(map[string]int)}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/cart", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.addCalls++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sessionId":"s","items":[]}`))
	})
	mux.HandleFunc("/api/checkout", func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		f.mu.Lock()
		f.checkouts[key]++
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"completed","orderId":"order-1"}`))
	})
	return mux
}

func TestRunScenario_CheckoutReplay(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	cfg := config{
		baseURL:    srv.URL,
		mode:       modeCheckoutReplay,
		currency:   "USD",
		productID:  "demo-kettle",
		qty:        1,
		sessionTag: "load",
		timeout:    time.Second,
	}
	cfg.unitPrice = mustDecimal(t, "2499.00")

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 0, "run-1", col); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.addCalls != 1 {
		t.Errorf("expected 1 add call, got %d", api.addCalls)
	}
	if len(api.checkouts) != 1 {
		t.Fatalf("expected a single idempotency key, got %v", api.checkouts)
	}
	for key, calls := range api.checkouts {
		if key == "" {
			t.Error("expected non-empty idempotency key")
		}
		if calls != 2 {
			t.Errorf("expected 2 checkout calls on the same key, got %d", calls)
		}
	}

	result := col.buildReport(time.Now(), time.Second)
	if result.Methods["Checkout"].Calls != 2 {
		t.Errorf("expected 2 recorded checkout calls, got %d", result.Methods["Checkout"].Calls)
	}
}

func TestRunScenario_CartModeStopsAfterAdd(t *testing.T) {
	api := newFakeAPI()
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	cfg := config{
		baseURL:    srv.URL,
		mode:       modeCart,
		currency:   "USD",
		productID:  "demo-kettle",
		qty:        2,
		sessionTag: "load",
		timeout:    time.Second,
	}
	cfg.unitPrice = mustDecimal(t, "10.00")

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 1, "run-2", col); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.checkouts) != 0 {
		t.Errorf("cart mode must not call checkout, got %v", api.checkouts)
	}
}

func TestRunScenario_FailedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	cfg := config{
		baseURL:    srv.URL,
		mode:       modeCheckout,
		currency:   "USD",
		productID:  "demo-kettle",
		qty:        1,
		sessionTag: "load",
		timeout:    time.Second,
	}
	cfg.unitPrice = mustDecimal(t, "10.00")

	col := newCollector()
	if err := runScenario(srv.Client(), cfg, 2, "run-3", col); err == nil {
		t.Fatal("expected error for non-2xx status")
	}
}

func mustDecimal(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}
