package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eavops/schema-sync/internal/config"
	"github.com/eavops/schema-sync/internal/httpclient"
)

// Source is an interface for fetching table definitions
type Source interface {
	// FetchTables retrieves the table definitions visible to one sync run,
	// normalized per the package contract
	FetchTables(ctx context.Context) ([]TableInfo, error)
}

// APISource fetches table definitions from a REST endpoint
type APISource struct {
	endpoint        string
	includeInactive bool
	httpClient      httpclient.Client
}

var _ Source = (*APISource)(nil)

// NewAPISource creates an API source from the source configuration.
// The bearer token, when configured, is attached to every request.
func NewAPISource(cfg *config.SourceConfig) (*APISource, error) {
	token, err := cfg.GetToken()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve API token: %w", err)
	}

	var opts []httpclient.Option
	if token != "" {
		opts = append(opts, httpclient.WithAuthToken(token))
	}

	return NewAPISourceWithClient(cfg, httpclient.NewDefaultClient(cfg.GetTimeout(), opts...)), nil
}

// NewAPISourceWithClient creates an API source with an injected HTTP client.
// The caller owns authentication on the client.
func NewAPISourceWithClient(cfg *config.SourceConfig, client httpclient.Client) *APISource {
	return &APISource{
		endpoint:        strings.TrimSuffix(cfg.Endpoint, "/"),
		includeInactive: cfg.IncludeInactive,
		httpClient:      client,
	}
}

// wireTable is the provider's table representation. Active is a pointer so
// providers that omit the flag default to active rather than being dropped.
type wireTable struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Active *bool       `json:"active"`
	Fields []FieldInfo `json:"fields"`
}

// FetchTables retrieves table definitions from the /tables endpoint
func (s *APISource) FetchTables(ctx context.Context) ([]TableInfo, error) {
	url := s.endpoint + "/tables"

	body, err := s.httpClient.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch table definitions: %w", err)
	}

	var wire []wireTable
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to parse table definitions: %w", err)
	}

	tables := make([]TableInfo, 0, len(wire))
	for i, w := range wire {
		if w.ID == "" {
			return nil, fmt.Errorf("table at index %d: id is required", i)
		}
		if w.Name == "" {
			return nil, fmt.Errorf("table at index %d (%s): name is required", i, w.ID)
		}
		for j, f := range w.Fields {
			if f.ID == "" {
				return nil, fmt.Errorf("table %s: field at index %d: id is required", w.ID, j)
			}
		}

		active := w.Active == nil || *w.Active
		if !active && !s.includeInactive {
			continue
		}

		tables = append(tables, TableInfo{
			ID:     w.ID,
			Name:   w.Name,
			Active: active,
			Fields: w.Fields,
		})
	}

	SortTables(tables)
	return tables, nil
}
