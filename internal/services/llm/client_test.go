package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scoville/internal/services/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...llm.Option) *llm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	cfg := llm.Config{
		APIKey:         "test-key",
		BaseURL:        server.URL,
		Model:          "test-model",
		EmbeddingModel: "test-embed",
	}
	opts = append([]llm.Option{llm.WithSleeper(func(time.Duration) {})}, opts...)
	return llm.NewClient(cfg, opts...)
}

func chatResponse(content string) string {
	encoded, _ := json.Marshal(content)
	return `{"choices": [{"message": {"content": ` + string(encoded) + `}, "finish_reason": "stop"}]}`
}

func TestConfigured(t *testing.T) {
	if llm.NewClient(llm.Config{}).Configured() {
		t.Error("keyless client reports configured")
	}
	if !llm.NewClient(llm.Config{APIKey: "k"}).Configured() {
		t.Error("keyed client reports unconfigured")
	}
}

func TestCompleteJSONSendsPrompts(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(chatResponse(`{"ok": true}`)))
	})

	content, err := client.CompleteJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content != `{"ok": true}` {
		t.Errorf("content = %q", content)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	format, _ := gotBody["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Errorf("response_format = %v", gotBody["response_format"])
	}
	messages, _ := gotBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %v", messages)
	}
}

func TestCompleteJSONRetriesRateLimit(t *testing.T) {
	var calls int
	var slept []time.Duration
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(chatResponse(`{"ok": true}`)))
	}, llm.WithSleeper(func(d time.Duration) { slept = append(slept, d) }))

	content, err := client.CompleteJSON(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content == "" || calls != 2 {
		t.Fatalf("content = %q, calls = %d", content, calls)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s] from Retry-After", slept)
	}
}

func TestCompleteJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad request"}}`))
	})

	_, err := client.CompleteJSON(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", calls)
	}
}

func TestCompleteJSONRetriesEmptyContent(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			_, _ = w.Write([]byte(`{"choices": [{"message": {"content": ""}, "finish_reason": "length"}]}`))
			return
		}
		_, _ = w.Write([]byte(chatResponse(`{"ok": true}`)))
	})

	content, err := client.CompleteJSON(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("CompleteJSON: %v", err)
	}
	if content == "" || calls != 3 {
		t.Fatalf("content = %q, calls = %d", content, calls)
	}
}

func TestCompleteJSONRequiresPromptsAndKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	if _, err := client.CompleteJSON(context.Background(), "", "u"); err == nil {
		t.Error("empty system prompt accepted")
	}
	if _, err := client.CompleteJSON(context.Background(), "s", ""); err == nil {
		t.Error("empty user prompt accepted")
	}

	unconfigured := llm.NewClient(llm.Config{})
	if _, err := unconfigured.CompleteJSON(context.Background(), "s", "u"); err == nil {
		t.Error("keyless completion accepted")
	}
}

func TestEmbedParsesVector(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"data": [{"embedding": [0.25, -0.5, 0.75]}]}`))
	})

	vector, err := client.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vector) != 3 || vector[1] != -0.5 {
		t.Fatalf("vector = %v", vector)
	}
	if gotBody["model"] != "test-embed" {
		t.Errorf("model = %v", gotBody["model"])
	}
}

func TestEmbedPassesDimensions(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"data": [{"embedding": [0.1]}]}`))
	}))
	t.Cleanup(server.Close)
	client := llm.NewClient(llm.Config{
		APIKey:              "k",
		BaseURL:             server.URL,
		EmbeddingModel:      "m",
		EmbeddingDimensions: 256,
	})

	if _, err := client.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotBody["dimensions"] != float64(256) {
		t.Errorf("dimensions = %v", gotBody["dimensions"])
	}
}

func TestEmbedEmptyResponseFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	})
	if _, err := client.Embed(context.Background(), "text"); err == nil {
		t.Fatal("empty embedding accepted")
	}
}

func TestDecodeModelJSON(t *testing.T) {
	type overlay struct {
		Chili int `json:"chili"`
	}

	cases := []struct {
		name    string
		payload string
		want    int
		wantErr bool
	}{
		{name: "plain", payload: `{"chili": 3}`, want: 3},
		{name: "fenced", payload: "```json\n{\"chili\": 4}\n```", want: 4},
		{name: "bare fence", payload: "```\n{\"chili\": 2}\n```", want: 2},
		{name: "leading prose", payload: `Here is the rating you asked for: {"chili": 5} Hope it helps!`, want: 5},
		{name: "empty", payload: "   ", wantErr: true},
		{name: "no json", payload: "I cannot rate this story.", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var parsed overlay
			err := llm.DecodeModelJSON(tc.payload, &parsed)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", parsed)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeModelJSON: %v", err)
			}
			if parsed.Chili != tc.want {
				t.Errorf("chili = %d, want %d", parsed.Chili, tc.want)
			}
		})
	}
}
