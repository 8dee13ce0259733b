package payrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type httpRail struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTP(baseURL, apiKey string) Rail {
	return &httpRail{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *httpRail) CreateTransfer(ctx context.Context, req CreateTransferReq) (*Transfer, error) {
	body := map[string]any{
		"amount":      req.Amount,
		"destination": req.DestinationAccount,
		"metadata":    req.Metadata,
	}
	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/transfers", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(r.apiKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rail create transfer failed: %s", resp.Status)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("rail: empty transfer id")
	}
	return &Transfer{Ref: out.ID}, nil
}
