package crawler

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"sjsage522/autoadworker/helpers"
)

// transientGraphQLMessage is the only GraphQL error message worth retrying
const transientGraphQLMessage = "Internal Error"

type graphQLError struct {
	Message string `json:"message"`
}

type searchEnvelope struct {
	Data *struct {
		AdvertSearch *advertSearch `json:"advertSearch"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func (e *searchEnvelope) advertSearch() *advertSearch {
	if e.Data == nil {
		return nil
	}
	return e.Data.AdvertSearch
}

type advertSearch struct {
	TotalCount flexInt `json:"totalCount"`
	Edges      []struct {
		Node *advertNode `json:"node"`
	} `json:"edges"`
}

type namedRef struct {
	Name string `json:"name"`
}

type advertNode struct {
	ID               flexString `json:"id"`
	URL              string     `json:"url"`
	Title            string     `json:"title"`
	ShortDescription string     `json:"shortDescription"`
	CreatedAt        string     `json:"createdAt"`
	Price            *struct {
		Amount *struct {
			Units        flexInt `json:"units"`
			CurrencyCode string  `json:"currencyCode"`
		} `json:"amount"`
	} `json:"price"`
	Parameters []struct {
		Key   string     `json:"key"`
		Value flexString `json:"value"`
	} `json:"parameters"`
	Location *struct {
		City   *namedRef `json:"city"`
		Region *namedRef `json:"region"`
	} `json:"location"`
	SellerLink *struct {
		ID flexString `json:"id"`
	} `json:"sellerLink"`
	MainPhoto *struct {
		URL string `json:"url"`
	} `json:"mainPhoto"`
}

// flexString accepts a JSON string or number
type flexString struct {
	Value string
	Valid bool
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = flexString{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString{Value: s, Valid: true}
		return nil
	}
	*f = flexString{Value: string(b), Valid: true}
	return nil
}

// flexInt accepts a JSON number or a quoted number
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexInt{}
	if !s.Valid {
		return nil
	}
	raw := strings.TrimSpace(s.Value)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = flexInt{Value: v, Valid: true}
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = flexInt{Value: int64(v), Valid: true}
	}
	return nil
}

func decodeEnvelope(body []byte) (*searchEnvelope, error) {
	var env searchEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func hasTransientError(errs []graphQLError) bool {
	for _, e := range errs {
		if e.Message == transientGraphQLMessage {
			return true
		}
	}
	return false
}

// listingParser maps advert nodes onto ListingRecords
type listingParser struct {
	source  string
	country string
	now     func() time.Time
}

func (p *listingParser) parseEdges(search *advertSearch) []ListingRecord {
	records := make([]ListingRecord, 0, len(search.Edges))
	scrapedAt := p.now().UTC()

	for _, edge := range search.Edges {
		if edge.Node == nil {
			continue
		}
		records = append(records, p.toRecord(edge.Node, scrapedAt))
	}
	return records
}

func (p *listingParser) toRecord(node *advertNode, scrapedAt time.Time) ListingRecord {
	params := make(map[string]string, len(node.Parameters))
	for _, param := range node.Parameters {
		if param.Key != "" && param.Value.Valid {
			params[param.Key] = param.Value.Value
		}
	}

	record := ListingRecord{
		SourceAdID:       node.ID.Value,
		URL:              node.URL,
		SourceName:       p.source,
		CountryCode:      p.country,
		ScrapedAt:        scrapedAt,
		Title:            helpers.CleanText(node.Title),
		Description:      helpers.CleanText(node.ShortDescription),
		PostedOnSourceAt: node.CreatedAt,
		Make:             params["make"],
		Model:            params["model"],
		Version:          params["version"],
		Generation:       params["generation"],
		Year:             digitParam(params, "year"),
		Mileage:          digitParam(params, "mileage"),
		FuelType:         params["fuel_type"],
		EngineCapacity:   digitParam(params, "engine_capacity"),
		EnginePower:      digitParam(params, "engine_power"),
		Gearbox:          params["gearbox"],
		Transmission:     params["transmission"],
		Color:            params["color"],
		ImageURLs:        []string{},
	}

	if node.Price != nil && node.Price.Amount != nil {
		if node.Price.Amount.Units.Valid {
			price := node.Price.Amount.Units.Value
			record.Price = &price
		}
		record.Currency = node.Price.Amount.CurrencyCode
	}

	if node.Location != nil {
		if node.Location.City != nil {
			record.City = node.Location.City.Name
		}
		if node.Location.Region != nil {
			record.Region = node.Location.Region.Name
		}
	}

	if node.SellerLink != nil {
		record.SellerLink = node.SellerLink.ID.Value
	}

	if node.MainPhoto != nil && node.MainPhoto.URL != "" {
		record.ImageURLs = []string{node.MainPhoto.URL}
	}

	return record
}

func digitParam(params map[string]string, key string) *int {
	v, ok := helpers.ParseDigits(params[key])
	if !ok {
		return nil
	}
	return &v
}

func truncate(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n])
}
