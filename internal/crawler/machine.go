package crawler

import (
	"net/http"
	"time"

	"sjsage522/autoadworker/helpers"
	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
)

// Error kinds reported to the Recorder
const (
	ErrKindForbidden   = "forbidden_403"
	ErrKindDecode      = "json_decode"
	ErrKindGraphQL     = "graphql"
	ErrKindRetry       = "graphql_retry"
	ErrKindMissingData = "missing_data"
	ErrKindTransport   = "transport"
	ErrKindPublish     = "publish"
)

const logBodyLimit = 500

// MachineConfig holds the crawl policy constants
type MachineConfig struct {
	SourceName          string
	CountryCode         string
	Consecutive403Limit int
	PauseDuration       time.Duration
	GraphQLRetryDelay   time.Duration
	GraphQLMaxRetries   int
}

// Machine sequences a crawl run across manufacturers and their pages.
// It does no I/O: every transition returns a Step for the engine to carry
// out. It is not safe for concurrent use.
type Machine struct {
	cfg      MachineConfig
	makes    []string
	queries  *QueryBuilder
	parser   *listingParser
	recorder Recorder
	log      *logger.Logger

	cursor     CrawlCursor
	errs       ErrorState
	stats      Stats
	scrapedIDs map[string]struct{}
	started    bool
	finished   bool
	startedAt  time.Time
	now        func() time.Time
}

// NewMachine creates a state machine over an ordered manufacturer list
func NewMachine(cfg MachineConfig, makes []string, queries *QueryBuilder, recorder Recorder) *Machine {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.Consecutive403Limit < 1 {
		cfg.Consecutive403Limit = 1
	}

	m := &Machine{
		cfg:        cfg,
		makes:      append([]string(nil), makes...),
		queries:    queries,
		recorder:   recorder,
		log:        logger.ForCrawler(cfg.SourceName),
		scrapedIDs: make(map[string]struct{}),
		now:        time.Now,
	}
	m.parser = &listingParser{source: cfg.SourceName, country: cfg.CountryCode, now: m.clock}
	return m
}

func (m *Machine) clock() time.Time {
	return m.now()
}

// State reports the current phase
func (m *Machine) State() State {
	switch {
	case m.finished:
		return StateComplete
	case m.errs.Paused:
		return StatePaused
	case !m.started:
		return StateIdle
	case !m.cursor.InitialDone:
		return StateFetchingInitial
	default:
		return StateFetchingPage
	}
}

// Cursor returns a copy of the current cursor
func (m *Machine) Cursor() CrawlCursor {
	c := m.cursor
	c.ActiveIDs = make(map[string]struct{}, len(m.cursor.ActiveIDs))
	for id := range m.cursor.ActiveIDs {
		c.ActiveIDs[id] = struct{}{}
	}
	return c
}

// ErrorState returns the anti-bot counters
func (m *Machine) ErrorState() ErrorState {
	return m.errs
}

// Stats returns the cumulative counters
func (m *Machine) Stats() Stats {
	return m.stats
}

// ScrapedIDCount is the number of distinct ad ids seen in this run
func (m *Machine) ScrapedIDCount() int {
	return len(m.scrapedIDs)
}

// RecordPublishError counts a listing or id set the emitter failed to publish
func (m *Machine) RecordPublishError() {
	m.stats.PublishErrors++
	m.recorder.RecordError(ErrKindPublish)
}

// Start begins the run with the first manufacturer
func (m *Machine) Start() Step {
	if m.started {
		return Step{}
	}
	m.started = true
	m.startedAt = m.now()

	m.log.Info().Int("makes", len(m.makes)).Msg("Crawl run started")
	return m.startCurrent()
}

// Resume ends a pause and restarts the current manufacturer from its initial page
func (m *Machine) Resume() Step {
	if !m.errs.Paused || m.finished {
		return Step{}
	}

	m.log.Info().
		Str("make", m.cursor.MakeName).
		Int("consecutive_403", m.errs.Consecutive403).
		Msg("Resuming after pause")

	m.errs.Paused = false
	m.errs.Consecutive403 = 0
	return m.startCurrent()
}

// HandleResponse advances the machine with the outcome of one request.
// fetchErr is set when the transport gave up without an HTTP response.
func (m *Machine) HandleResponse(req Request, resp *helpers.Response, fetchErr error) Step {
	if m.finished {
		return Step{}
	}
	if req.Generation != m.cursor.Generation {
		m.log.Debug().
			Str("make", req.Make).
			Int("page", req.Page).
			Msg("Discarding response for a superseded attempt")
		return Step{}
	}
	if m.errs.Paused {
		m.log.Info().Str("make", req.Make).Int("page", req.Page).Msg("Paused, skipping response")
		return Step{}
	}

	if fetchErr != nil {
		m.stats.TransportErrors++
		m.recorder.RecordError(ErrKindTransport)
		m.log.Error().Err(fetchErr).Str("make", req.Make).Int("page", req.Page).Msg("Fetch failed")
		return m.pageDone()
	}

	if resp.StatusCode == http.StatusForbidden {
		return m.handleForbidden(req)
	}

	if m.errs.Consecutive403 > 0 {
		m.log.Info().Int("consecutive_403", m.errs.Consecutive403).Msg("Request succeeded, resetting 403 counter")
		m.errs.Consecutive403 = 0
	}

	if resp.StatusCode != http.StatusOK {
		m.stats.TransportErrors++
		m.recorder.RecordError(ErrKindTransport)
		m.log.Error().
			Err(apperrors.NewTransport(m.cfg.SourceName, "unexpected status", nil)).
			Int("status", resp.StatusCode).
			Str("make", req.Make).
			Int("page", req.Page).
			Str("url", req.URL).
			Msg("Upstream returned a non-200 status")
		return m.pageDone()
	}

	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		m.stats.JSONDecodeErrors++
		m.recorder.RecordError(ErrKindDecode)
		m.log.Error().
			Err(apperrors.NewDecode(m.cfg.SourceName, "invalid JSON", err)).
			Str("make", req.Make).
			Int("page", req.Page).
			Str("url", req.URL).
			Str("body", truncate(resp.Body, logBodyLimit)).
			Msg("Failed to decode response")
		return m.pageDone()
	}

	if env.Errors != nil {
		return m.handleGraphQLErrors(req, env.Errors)
	}

	search := env.advertSearch()
	if search == nil {
		m.stats.MissingDataErrors++
		m.recorder.RecordError(ErrKindMissingData)
		m.log.Error().
			Err(apperrors.NewDecode(m.cfg.SourceName, "advertSearch key not found", nil)).
			Str("make", req.Make).
			Int("page", req.Page).
			Str("body", truncate(resp.Body, logBodyLimit)).
			Msg("Missing data in response")
		return m.pageDone()
	}

	if req.Initial {
		return m.handleInitial(req, search)
	}
	return m.handlePage(req, search)
}

func (m *Machine) handleInitial(req Request, search *advertSearch) Step {
	total := int(search.TotalCount.Value)
	pageSize := m.queries.PageSize()
	m.cursor.TotalPages = (total + pageSize - 1) / pageSize
	m.cursor.InitialDone = true

	m.log.Info().
		Str("make", req.Make).
		Int("total_items", total).
		Int("total_pages", m.cursor.TotalPages).
		Msg("Manufacturer listing count discovered")

	if total <= 0 {
		return m.pageDone()
	}

	var rest []Request
	for page := 2; page <= m.cursor.TotalPages; page++ {
		next, ok := m.request(req.Make, page, false)
		if !ok {
			continue
		}
		rest = append(rest, next)
	}

	step := m.handlePage(req, search)
	step.Requests = append(rest, step.Requests...)
	return step
}

func (m *Machine) handlePage(req Request, search *advertSearch) Step {
	records := m.parser.parseEdges(search)
	for _, r := range records {
		if r.SourceAdID == "" {
			continue
		}
		m.cursor.ActiveIDs[r.SourceAdID] = struct{}{}
		m.scrapedIDs[r.SourceAdID] = struct{}{}
	}

	m.stats.ListingsParsed += len(records)
	m.recorder.RecordListings(len(records))

	if req.Page%10 == 1 || req.Page == m.cursor.TotalPages {
		m.log.Info().Str("make", req.Make).Int("page", req.Page).Int("listings", len(records)).Msg("Page parsed")
	}

	step := Step{Records: records}
	step.merge(m.pageDone())
	return step
}

func (m *Machine) handleForbidden(req Request) Step {
	m.stats.Forbidden403++
	m.errs.Consecutive403++
	m.recorder.RecordError(ErrKindForbidden)

	m.log.Error().
		Err(apperrors.NewForbidden(m.cfg.SourceName, req.URL)).
		Str("make", req.Make).
		Int("page", req.Page).
		Int("consecutive_403", m.errs.Consecutive403).
		Int("limit", m.cfg.Consecutive403Limit).
		Msg("Received 403")

	if m.errs.Consecutive403 < m.cfg.Consecutive403Limit {
		return m.pageDone()
	}

	m.errs.Paused = true
	m.log.Warn().
		Str("make", m.cursor.MakeName).
		Dur("pause", m.cfg.PauseDuration).
		Msg("403 limit reached, pausing crawl")
	return Step{ResumeAfter: m.cfg.PauseDuration}
}

func (m *Machine) handleGraphQLErrors(req Request, errs []graphQLError) Step {
	m.stats.GraphQLErrors++
	m.recorder.RecordError(ErrKindGraphQL)

	transient := hasTransientError(errs)
	if transient && req.RetryCount < m.cfg.GraphQLMaxRetries {
		m.stats.GraphQLRetries++
		m.recorder.RecordError(ErrKindRetry)

		retry := req
		retry.RetryCount++
		retry.Delay = m.cfg.GraphQLRetryDelay

		m.log.Warn().
			Str("make", req.Make).
			Int("page", req.Page).
			Int("retry_count", retry.RetryCount).
			Int("max_retries", m.cfg.GraphQLMaxRetries).
			Dur("delay", retry.Delay).
			Msg("GraphQL Internal Error, retrying")
		return Step{Requests: []Request{retry}}
	}

	var err error
	if transient {
		err = apperrors.NewGraphQLTransient(m.cfg.SourceName, transientGraphQLMessage)
	} else {
		err = apperrors.NewGraphQLFatal(m.cfg.SourceName, "query rejected")
	}
	m.log.Error().
		Err(err).
		Str("make", req.Make).
		Int("page", req.Page).
		Int("retry_count", req.RetryCount).
		Interface("errors", errs).
		Msg("GraphQL errors, skipping page")
	return m.pageDone()
}

// pageDone marks one page of the current manufacturer as terminal
func (m *Machine) pageDone() Step {
	m.cursor.ProcessedPages++
	m.stats.PagesProcessed++
	m.recorder.RecordPage()

	need := m.cursor.TotalPages
	if need < 1 {
		need = 1
	}
	if m.cursor.ProcessedPages < need || m.cursor.CompletionLocked {
		return Step{}
	}

	m.cursor.CompletionLocked = true
	return m.finalize()
}

func (m *Machine) finalize() Step {
	set := ActiveIDSet{
		SourceName:       m.cfg.SourceName,
		ManufacturerName: m.cursor.MakeName,
		AdIDs:            m.cursor.sortedActiveIDs(),
	}

	m.stats.MakesCompleted++
	m.recorder.RecordMakeCompleted()

	m.log.Info().
		Str("make", m.cursor.MakeName).
		Int("index", m.cursor.MakeIndex).
		Int("active_ids", len(set.AdIDs)).
		Int("total_pages", m.cursor.TotalPages).
		Interface("stats", m.stats).
		Msg("Manufacturer completed")

	step := Step{Completed: []ActiveIDSet{set}}
	m.cursor.MakeIndex++
	step.merge(m.startCurrent())
	return step
}

// startCurrent resets the cursor for the manufacturer at the current index
// and issues its initial page, or finishes the run
func (m *Machine) startCurrent() Step {
	index := m.cursor.MakeIndex
	if index >= len(m.makes) {
		m.finished = true
		m.log.Info().
			Int("makes", index).
			Int("scraped_ids", len(m.scrapedIDs)).
			Dur("elapsed", m.now().Sub(m.startedAt)).
			Interface("stats", m.stats).
			Msg("Crawl run finished")
		return Step{Finished: true}
	}

	name := m.makes[index]
	m.cursor.reset(index, name)

	m.log.Info().
		Str("make", name).
		Int("index", index+1).
		Int("of", len(m.makes)).
		Msg("Starting manufacturer")

	req, ok := m.request(name, 1, true)
	if !ok {
		// unbuildable request is a terminal failure of the initial page
		return m.pageDone()
	}
	return Step{Requests: []Request{req}}
}

func (m *Machine) request(manufacturer string, page int, initial bool) (Request, bool) {
	url, err := m.queries.Build(manufacturer, page)
	if err != nil {
		m.log.Error().Err(err).Str("make", manufacturer).Int("page", page).Msg("Failed to build request")
		return Request{}, false
	}
	return Request{
		Make:       manufacturer,
		Page:       page,
		URL:        url,
		Initial:    initial,
		Generation: m.cursor.Generation,
	}, true
}
