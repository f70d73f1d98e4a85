package crawler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultEndpoint is the otomoto GraphQL endpoint
	DefaultEndpoint = "https://www.otomoto.pl/graphql"

	operationName   = "listingScreen"
	persistedHash   = "1a840f0ab7fbe2543d0d6921f6c963de8341e04a4548fd1733b4a771392f900a"
	makeFilterName  = "filter_enum_make"
	listingMaxAge   = 60
)

// Filter is a single search filter
type Filter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var baseFilters = []Filter{
	{Name: "category_id", Value: "29"},
	{Name: "new_used", Value: "used"},
}

var baseParameters = []string{
	"make", "vin", "offer_type", "show_pir", "fuel_type", "gearbox",
	"country_origin", "mileage", "engine_capacity", "color", "engine_code",
	"transmission", "engine_power", "first_registration_year",
	"model", "version", "year", "generation",
}

// Field order here is the wire order
type listingVariables struct {
	Filters                 []Filter `json:"filters"`
	IncludeCepik            bool     `json:"includeCepik"`
	IncludeFiltersCounters  bool     `json:"includeFiltersCounters"`
	IncludeNewPromotedAds   bool     `json:"includeNewPromotedAds"`
	IncludePriceEvaluation  bool     `json:"includePriceEvaluation"`
	IncludePromotedAds      bool     `json:"includePromotedAds"`
	IncludeRatings          bool     `json:"includeRatings"`
	IncludeSortOptions      bool     `json:"includeSortOptions"`
	IncludeSuggestedFilters bool     `json:"includeSuggestedFilters"`
	ItemsPerPage            int      `json:"itemsPerPage"`
	MaxAge                  int      `json:"maxAge"`
	Page                    int      `json:"page"`
	Parameters              []string `json:"parameters"`
	PromotedInput           struct{} `json:"promotedInput"`
}

type persistedQuery struct {
	SHA256Hash string `json:"sha256Hash"`
	Version    int    `json:"version"`
}

type queryExtensions struct {
	PersistedQuery persistedQuery `json:"persistedQuery"`
}

// QueryBuilder builds listing search URLs for one manufacturer and page
type QueryBuilder struct {
	endpoint string
	pageSize int
}

// NewQueryBuilder creates a query builder
func NewQueryBuilder(endpoint string, pageSize int) *QueryBuilder {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &QueryBuilder{endpoint: endpoint, pageSize: pageSize}
}

// PageSize returns the items-per-page used in every query
func (b *QueryBuilder) PageSize() int {
	return b.pageSize
}

// Filters returns the base filters plus exactly one manufacturer filter
func (b *QueryBuilder) Filters(manufacturer string) []Filter {
	filters := make([]Filter, 0, len(baseFilters)+1)
	for _, f := range baseFilters {
		if f.Name != makeFilterName {
			filters = append(filters, f)
		}
	}
	return append(filters, Filter{Name: makeFilterName, Value: manufacturer})
}

// Build returns the GET URL for a manufacturer page. The output depends only
// on the inputs.
func (b *QueryBuilder) Build(manufacturer string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}

	vars, err := compactJSON(listingVariables{
		Filters:                b.Filters(manufacturer),
		IncludeFiltersCounters: true,
		ItemsPerPage:           b.pageSize,
		MaxAge:                 listingMaxAge,
		Page:                   page,
		Parameters:             baseParameters,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode variables: %w", err)
	}

	ext, err := compactJSON(queryExtensions{
		PersistedQuery: persistedQuery{SHA256Hash: persistedHash, Version: 1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode extensions: %w", err)
	}

	return b.endpoint +
		"?operationName=" + operationName +
		"&variables=" + escape(vars) +
		"&extensions=" + escape(ext), nil
}

func compactJSON(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// escape percent-encodes s, using %20 for spaces
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
