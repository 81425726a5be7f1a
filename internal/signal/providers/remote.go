package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quorum/internal/market"
	"quorum/internal/signal"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// opinionSchema is the contract a remote advisor must satisfy. Anything
// that fails validation is treated as a provider error (absent opinion),
// never silently coerced into a trade.
const opinionSchema = `{
  "type": "object",
  "required": ["call", "confidence"],
  "properties": {
    "call": {"type": "string", "enum": ["long", "short", "flat"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "size": {"type": "number", "minimum": 0, "maximum": 1},
    "stop_loss": {"type": "number", "minimum": 0},
    "take_profit": {"type": "number", "minimum": 0},
    "rationale": {"type": "string"}
  }
}`

var compiledOpinionSchema = jsonschema.MustCompileString("opinion.json", opinionSchema)

// Remote queries an external advisory endpoint over HTTP. The endpoint
// receives the snapshot as JSON and answers with a single opinion object.
// This is the integration point for model-backed advisors that live in
// their own processes.
type Remote struct {
	id      string
	url     string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

func NewRemote(id, url, apiKey string, headers map[string]string) *Remote {
	return &Remote{
		id:      id,
		url:     strings.TrimSpace(url),
		apiKey:  apiKey,
		headers: headers,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Remote) ID() string { return r.id }

type remoteRequest struct {
	Symbol     string             `json:"symbol"`
	Timestamp  int64              `json:"timestamp_ms"`
	Price      float64            `json:"price"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators"`
}

func (r *Remote) Evaluate(ctx context.Context, snap market.Snapshot) (signal.Opinion, error) {
	body, err := json.Marshal(remoteRequest{
		Symbol:     snap.Symbol,
		Timestamp:  snap.Timestamp.UnixMilli(),
		Price:      snap.Price,
		Volume:     snap.Volume,
		Indicators: snap.Indicators,
	})
	if err != nil {
		return signal.Opinion{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return signal.Opinion{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return signal.Opinion{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return signal.Opinion{}, err
	}
	if resp.StatusCode/100 != 2 {
		return signal.Opinion{}, fmt.Errorf("advisor %s status=%d", r.id, resp.StatusCode)
	}
	return ParseRemoteOpinion(raw)
}

// ParseRemoteOpinion validates and decodes one advisor payload. The payload
// may arrive wrapped in an {"opinion": {...}} envelope; both shapes are
// accepted.
func ParseRemoteOpinion(raw []byte) (signal.Opinion, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || !gjson.Valid(text) {
		return signal.Opinion{}, fmt.Errorf("advisor returned invalid json")
	}
	node := gjson.Parse(text)
	if wrapped := node.Get("opinion"); wrapped.IsObject() {
		node = wrapped
	}
	var decoded any
	if err := json.Unmarshal([]byte(node.Raw), &decoded); err != nil {
		return signal.Opinion{}, err
	}
	if err := compiledOpinionSchema.Validate(decoded); err != nil {
		return signal.Opinion{}, fmt.Errorf("advisor payload rejected by schema: %w", err)
	}
	call, ok := signal.ParseCall(node.Get("call").String())
	if !ok {
		return signal.Opinion{}, fmt.Errorf("advisor returned unknown call %q", node.Get("call").String())
	}
	return signal.Opinion{
		Call:       call,
		Confidence: node.Get("confidence").Float(),
		Size:       node.Get("size").Float(),
		StopLoss:   node.Get("stop_loss").Float(),
		TakeProfit: node.Get("take_profit").Float(),
		Rationale:  node.Get("rationale").String(),
	}, nil
}
