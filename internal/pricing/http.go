package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"YieldAccrual/internal/model"
)

// HTTPSource fetches pricing from a JSON endpoint.
type HTTPSource struct {
	URL    string
	APIKey string
	Client *http.Client
}

// NewHTTPSource creates a source with optional proxy support.
func NewHTTPSource(endpoint, apiKey, proxyURL string) *HTTPSource {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPSource{
		URL:    endpoint,
		APIKey: apiKey,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (s *HTTPSource) Name() string { return "http" }

// httpPricing is the expected JSON shape. Numbers may be JSON numbers or strings.
type httpPricing struct {
	MonthlyRate decimal.Decimal `json:"monthly_rate"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TargetDate  string          `json:"target_date"`
}

func (s *HTTPSource) FetchPricing(ctx context.Context) (*model.PricingRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pricing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch pricing: status %d, body: %s", resp.StatusCode, string(body))
	}

	var p httpPricing
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}

	rec := &model.PricingRecord{MonthlyRate: p.MonthlyRate, UnitPrice: p.UnitPrice}
	if p.TargetDate != "" {
		target, err := parseTargetDate(p.TargetDate)
		if err != nil {
			return nil, fmt.Errorf("decode target date: %w", err)
		}
		rec.TargetDate = target
	}
	return rec, nil
}

// parseTargetDate accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseTargetDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}
