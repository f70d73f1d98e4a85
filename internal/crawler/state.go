package crawler

import "sort"

// State is the coarse phase of a crawl run
type State int

const (
	StateIdle State = iota
	StateFetchingInitial
	StateFetchingPage
	StatePaused
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetchingInitial:
		return "FETCHING_INITIAL"
	case StateFetchingPage:
		return "FETCHING_PAGE"
	case StatePaused:
		return "PAUSED"
	case StateComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// CrawlCursor tracks progress through the current manufacturer
type CrawlCursor struct {
	MakeIndex        int
	MakeName         string
	TotalPages       int
	ProcessedPages   int
	ActiveIDs        map[string]struct{}
	CompletionLocked bool
	InitialDone      bool
	Generation       int
}

func (c *CrawlCursor) reset(index int, name string) {
	c.MakeIndex = index
	c.MakeName = name
	c.TotalPages = 0
	c.ProcessedPages = 0
	c.ActiveIDs = make(map[string]struct{})
	c.CompletionLocked = false
	c.InitialDone = false
	c.Generation++
}

func (c *CrawlCursor) sortedActiveIDs() []string {
	ids := make([]string, 0, len(c.ActiveIDs))
	for id := range c.ActiveIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ErrorState is the process-wide anti-bot state
type ErrorState struct {
	Consecutive403 int
	Paused         bool
}

// Stats are cumulative counters for one crawl run
type Stats struct {
	Forbidden403      int `json:"forbidden_403"`
	JSONDecodeErrors  int `json:"json_decode_errors"`
	GraphQLErrors     int `json:"graphql_errors"`
	GraphQLRetries    int `json:"graphql_retries"`
	MissingDataErrors int `json:"missing_data_errors"`
	TransportErrors   int `json:"transport_errors"`
	PublishErrors     int `json:"publish_errors"`
	PagesProcessed    int `json:"pages_processed"`
	ListingsParsed    int `json:"listings_parsed"`
	MakesCompleted    int `json:"makes_completed"`
}
