package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/srikhai/wastetrack/internal/schema"
)

// fakeAPI records request prompts and answers with a canned message.
type fakeAPI struct {
	mu      sync.Mutex
	prompts []string
	temps   []*float64
	reply   string
	status  int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Model       string   `json:"model"`
		Temperature *float64 `json:"temperature"`
		Messages    []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	body, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(body, &req)

	f.mu.Lock()
	if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
		f.prompts = append(f.prompts, req.Messages[0].Content[0].Text)
	}
	f.temps = append(f.temps, req.Temperature)
	status, reply := f.status, f.reply
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         req.Model,
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": reply}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 5},
	})
}

func (f *fakeAPI) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func newTestGenerator(t *testing.T, api *fakeAPI) *Anthropic {
	t.Helper()
	ts := httptest.NewServer(api)
	t.Cleanup(ts.Close)

	gen, err := NewAnthropic(Options{
		APIKey:     "test-key",
		BaseURL:    ts.URL,
		MaxRetries: -1,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewAnthropic failed: %v", err)
	}
	return gen
}

func sampleRecords() []schema.WasteRecord {
	return []schema.WasteRecord{
		{ID: "c", Month: 3, Year: 2567, AmountKg: 150000, Population: 4000},
		{ID: "a", Month: 1, Year: 2567, AmountKg: 120000, Population: 4000},
		{ID: "b", Month: 2, Year: 2567, AmountKg: 100000, Population: 4000},
	}
}

func TestNewAnthropic_NoAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		if _, err := NewAnthropic(Options{APIKey: key}); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("NewAnthropic(%q) error = %v, want ErrNoAPIKey", key, err)
		}
	}
}

func TestNotEnoughData(t *testing.T) {
	api := &fakeAPI{reply: "unused"}
	gen := newTestGenerator(t, api)
	ctx := context.Background()
	one := sampleRecords()[:1]

	tests := []struct {
		name string
		call func() (string, error)
	}{
		{"mayor with no records", func() (string, error) { return gen.MayorReport(ctx, nil) }},
		{"insight with one record", func() (string, error) { return gen.Insight(ctx, one) }},
		{"comparison with empty year", func() (string, error) { return gen.Comparison(ctx, 2567, one, 2566, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); !errors.Is(err, ErrNotEnoughData) {
				t.Errorf("error = %v, want ErrNotEnoughData", err)
			}
		})
	}
	if len(api.prompts) != 0 {
		t.Errorf("API called %d times, want 0", len(api.prompts))
	}
}

func TestMayorReport(t *testing.T) {
	api := &fakeAPI{reply: "  ## 1. Executive Summary\n...  "}
	gen := newTestGenerator(t, api)

	got, err := gen.MayorReport(context.Background(), sampleRecords())
	if err != nil {
		t.Fatalf("MayorReport failed: %v", err)
	}
	if got != "## 1. Executive Summary\n..." {
		t.Errorf("report = %q", got)
	}

	prompt := api.lastPrompt()
	jan := strings.Index(prompt, "มกราคม 2567")
	mar := strings.Index(prompt, "มีนาคม 2567")
	if jan < 0 || mar < 0 || jan > mar {
		t.Errorf("prompt should list months oldest first:\n%s", prompt)
	}
	if !strings.Contains(prompt, "120.00 t (1.000 kg/person/day)") {
		t.Errorf("prompt missing January figures:\n%s", prompt)
	}
	if temp := api.temps[0]; temp == nil || *temp != mayorTemperature {
		t.Errorf("temperature = %v, want %v", temp, mayorTemperature)
	}
}

func TestInsightComparesLatestPeriods(t *testing.T) {
	api := &fakeAPI{reply: "Rate is within range."}
	gen := newTestGenerator(t, api)

	if _, err := gen.Insight(context.Background(), sampleRecords()); err != nil {
		t.Fatalf("Insight failed: %v", err)
	}
	prompt := api.lastPrompt()
	if !strings.Contains(prompt, "Latest situation (มีนาคม 2567)") {
		t.Errorf("prompt should describe March:\n%s", prompt)
	}
	if !strings.Contains(prompt, "+50.0% vs กุมภาพันธ์ 2567") {
		t.Errorf("prompt should compare against February:\n%s", prompt)
	}
	if api.temps[0] != nil {
		t.Errorf("temperature = %v, want unset", *api.temps[0])
	}
}

func TestComparison(t *testing.T) {
	api := &fakeAPI{reply: "Improved."}
	gen := newTestGenerator(t, api)

	y1 := []schema.WasteRecord{{Month: 1, Year: 2567, AmountKg: 90000, Population: 3000}}
	y2 := []schema.WasteRecord{{Month: 1, Year: 2566, AmountKg: 100000, Population: 3000}}
	got, err := gen.Comparison(context.Background(), 2567, y1, 2566, y2)
	if err != nil {
		t.Fatalf("Comparison failed: %v", err)
	}
	if got != "Improved." {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(api.lastPrompt(), "Difference: -10.0%") {
		t.Errorf("prompt missing difference:\n%s", api.lastPrompt())
	}
}

func TestAPIErrorAndEmptyResponse(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		gen := newTestGenerator(t, &fakeAPI{status: http.StatusUnauthorized})
		_, err := gen.Insight(context.Background(), sampleRecords())
		if err == nil || !strings.Contains(err.Error(), "failed to generate insight") {
			t.Errorf("error = %v", err)
		}
	})
	t.Run("empty response", func(t *testing.T) {
		gen := newTestGenerator(t, &fakeAPI{reply: "   "})
		if _, err := gen.Insight(context.Background(), sampleRecords()); !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("error = %v, want ErrEmptyResponse", err)
		}
	})
}

func TestForYearAndMonthName(t *testing.T) {
	recs := append(sampleRecords(), schema.WasteRecord{ID: "d", Month: 12, Year: 2566})
	if got := len(ForYear(recs, 2567)); got != 3 {
		t.Errorf("ForYear(2567) = %d records, want 3", got)
	}
	if got := len(ForYear(recs, 2565)); got != 0 {
		t.Errorf("ForYear(2565) = %d records, want 0", got)
	}
	if got := MonthName(12); got != "ธันวาคม" {
		t.Errorf("MonthName(12) = %q", got)
	}
	if got := MonthName(13); got != "month 13" {
		t.Errorf("MonthName(13) = %q", got)
	}
}
