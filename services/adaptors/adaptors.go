package adaptors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"quasar_backend/models"
	"quasar_backend/services/lifecycle"
	"quasar_backend/services/live"

	"github.com/shopspring/decimal"
)

const pullTimeout = 60 * time.Second

// NewFactory returns the lifecycle factory that builds the built-in
// adaptor for each provider kind. The record's code location is the
// adaptor endpoint; the api_key secret authenticates non-user-index kinds.
func NewFactory() lifecycle.Factory {
	return func(ctx context.Context, rec *models.ProviderRecord, secrets map[string]string, preferences models.PreferenceBlob) (lifecycle.Instance, error) {
		switch rec.Kind {
		case models.KindHistorical:
			apiKey, err := requireSecret(secrets, "api_key")
			if err != nil {
				return nil, err
			}
			return &HistoricalProvider{
				name:     rec.Name,
				endpoint: rec.CodeLocation,
				apiKey:   apiKey,
				quote:    preferences.PreferredQuoteCurrency(),
				client:   &http.Client{Timeout: pullTimeout},
			}, nil

		case models.KindLive:
			apiKey, err := requireSecret(secrets, "api_key")
			if err != nil {
				return nil, err
			}
			return &LiveProvider{
				name:      rec.Name,
				streamURL: rec.CodeLocation,
				apiKey:    apiKey,
			}, nil

		case models.KindIndexProvider:
			apiKey, err := requireSecret(secrets, "api_key")
			if err != nil {
				return nil, err
			}
			return &IndexProvider{name: rec.Name, endpoint: rec.CodeLocation, apiKey: apiKey}, nil

		case models.KindUserIndex:
			return &UserIndexProvider{name: rec.Name}, nil
		}

		return nil, fmt.Errorf("unknown provider kind %q", rec.Kind)
	}
}

func requireSecret(secrets map[string]string, key string) (string, error) {
	v, ok := secrets[key]
	if !ok || v == "" {
		return "", fmt.Errorf("missing required secret %q", key)
	}
	return v, nil
}

// historicalRow is the wire format of one daily bar from a REST pull
type historicalRow struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// HistoricalProvider pulls daily bars over REST
type HistoricalProvider struct {
	name     string
	endpoint string
	apiKey   string
	quote    string
	client   *http.Client
}

func (p *HistoricalProvider) ProviderName() string { return p.name }

// PullDaily fetches up to lookbackDays of daily bars from the endpoint
func (p *HistoricalProvider) PullDaily(ctx context.Context, lookbackDays int) ([]live.Bar, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", p.endpoint, err)
	}
	q := u.Query()
	q.Set("days", strconv.Itoa(lookbackDays))
	q.Set("api_token", p.apiKey)
	if p.quote != "" {
		q.Set("quote", p.quote)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull request returned status %d", resp.StatusCode)
	}

	var rows []historicalRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode pull response: %w", err)
	}

	bars := make([]live.Bar, 0, len(rows))
	for _, r := range rows {
		day, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return nil, fmt.Errorf("bad bar date %q for %s: %w", r.Date, r.Symbol, err)
		}
		bars = append(bars, live.Bar{
			Symbol: r.Symbol,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			Start:  day,
			End:    day.Add(24 * time.Hour),
		})
	}
	return bars, nil
}

// LiveProvider exposes the stream endpoint the collector dials
type LiveProvider struct {
	name      string
	streamURL string
	apiKey    string
}

func (p *LiveProvider) ProviderName() string { return p.name }

// StreamURL returns the WebSocket endpoint with the API key attached
func (p *LiveProvider) StreamURL() string {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return p.streamURL
	}
	q := u.Query()
	q.Set("api_token", p.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// Symbols returns the subscription filter; nil subscribes to the full feed
func (p *LiveProvider) Symbols() []string { return nil }

// IndexProvider serves vendor-computed index values
type IndexProvider struct {
	name     string
	endpoint string
	apiKey   string
}

func (p *IndexProvider) ProviderName() string { return p.name }

// UserIndexProvider evaluates user-defined indices; it carries no
// credentials by construction
type UserIndexProvider struct {
	name string
}

func (p *UserIndexProvider) ProviderName() string { return p.name }
