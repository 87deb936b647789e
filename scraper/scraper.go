// Package scraper drives the sequential crawl of ndr.nl listing and result
// pages over a year-month range.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/mkoolhoven/go-scrape-ndr/config"
	"github.com/mkoolhoven/go-scrape-ndr/models"
	"github.com/mkoolhoven/go-scrape-ndr/parser"
	"github.com/mkoolhoven/go-scrape-ndr/pipeline"
)

const (
	phaseListing = "listing"
	phaseResults = "results"
)

// Scraper wraps the colly collector and retry logic for the ndr.nl target.
// One collector serves the whole run, acquired at construction and shared by
// both phases.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retrier
	Metrics   *Metrics

	requestCount int64
	rowCount     int64

	mu           sync.Mutex
	events       []*models.Event
	scrapeErrors []*models.ScrapeError
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg. Construction
// errors are environment errors: fatal, never retried.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	listing, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	results, err := url.Parse(cfg.ResultsURL)
	if err != nil {
		return nil, fmt.Errorf("parse results url: %w", err)
	}
	if listing.Host == "" || results.Host == "" {
		return nil, fmt.Errorf("listing and results urls must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(listing.Host, results.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}
	s.retry = newRetrier(cfg, s.Metrics)
	return s, nil
}

// Run walks every month in the configured range in ascending order, collects
// the events each listing page publishes, then fetches every event's results
// page in encounter order, streaming rows through the pipeline. Per-page
// failures become ScrapeError entries and never abort the run; cancellation
// stops iteration between fetches.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	months, err := models.ParseRange(s.cfg.StartMonth, s.cfg.EndMonth)
	if err != nil {
		return nil, fmt.Errorf("parse month range: %w", err)
	}

	s.configureHandlers(p)
	start := time.Now()
	monthsVisited := 0

	for _, month := range months {
		if ctx.Err() != nil {
			slog.Info("run cancelled, stopping month iteration", slog.String("month", month.String()))
			break
		}
		pageURL := s.listingURL(month)
		reqCtx := colly.NewContext()
		reqCtx.Put("phase", phaseListing)
		reqCtx.Put("month", month.QueryMonth())
		reqCtx.Put("year", month.QueryYear())

		monthsVisited++
		if err := s.visitWithRetry(ctx, pageURL, reqCtx); err != nil {
			s.addScrapeError(month.String(), pageURL, err)
		}
	}

	for _, event := range s.snapshotEvents() {
		if ctx.Err() != nil {
			slog.Info("run cancelled, stopping event iteration", slog.String("event", event.ID))
			break
		}
		pageURL := s.resultsURL(event.ID)
		reqCtx := colly.NewContext()
		reqCtx.Put("phase", phaseResults)
		reqCtx.Put("event", event.ID)

		if err := s.visitWithRetry(ctx, pageURL, reqCtx); err != nil {
			s.addScrapeError(event.ID, pageURL, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.ScraperResult{
		Events:       append([]*models.Event(nil), s.events...),
		Errors:       append([]*models.ScrapeError(nil), s.scrapeErrors...),
		StartTime:    start,
		EndTime:      time.Now(),
		MonthCount:   monthsVisited,
		RowCount:     int(atomic.LoadInt64(&s.rowCount)),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		RetryCount:   s.retry.TotalRetries(),
		FailedURLs:   append([]string(nil), s.failedURLs...),
		ErrorsByType: copyCounts(s.errorsByType),
	}, nil
}

func (s *Scraper) configureHandlers(p *pipeline.Pipeline) {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest(r.Ctx.Get("phase"))
			slog.Debug("fetching page",
				slog.String("phase", r.Ctx.Get("phase")),
				slog.String("url", r.URL.String()),
			)
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			if r != nil && r.Request != nil {
				r.Request.Ctx.Put("classified", classified)
			}
			slog.Debug("request error",
				slog.Int("status", statusCode),
				slog.Any("error", err),
			)
		})

		s.collector.OnHTML("div#ndr-course-results li[data-koersdag]", func(e *colly.HTMLElement) {
			if e.Request.Ctx.Get("phase") != phaseListing {
				return
			}
			event := extractEvent(e)
			if event == nil {
				return
			}
			s.Metrics.IncEvents()
			s.mu.Lock()
			s.events = append(s.events, event)
			s.mu.Unlock()
		})

		s.collector.OnHTML("div.ndr-koers-titelbalk", func(e *colly.HTMLElement) {
			if e.Request.Ctx.Get("phase") != phaseResults {
				return
			}
			eventID := e.Request.Ctx.Get("event")
			bumpSections(e.Request.Ctx)

			rows, err := parser.ParseRaceSection(e.DOM, eventID)
			if err != nil {
				s.addScrapeError(eventID, e.Request.URL.String(), ErrParse{Err: err})
				return
			}
			if len(rows) == 0 {
				return
			}

			atomic.AddInt64(&s.rowCount, int64(len(rows)))
			s.Metrics.AddRows(len(rows))
			if err := p.Process(rows...); err != nil && !errors.Is(err, pipeline.ErrPipelineClosed) {
				slog.Error("pipeline process error", slog.Any("error", err))
			}
		})

		s.collector.OnScraped(func(r *colly.Response) {
			if r.Ctx.Get("phase") != phaseResults {
				return
			}
			if sections, _ := r.Ctx.GetAny("sections").(int); sections == 0 {
				eventID := r.Ctx.Get("event")
				s.addScrapeError(eventID, r.Request.URL.String(), ErrNoResults{Event: eventID})
			}
		})
	})
}

// extractEvent builds an Event from one agenda item on the listing page.
func extractEvent(e *colly.HTMLElement) *models.Event {
	id := e.Attr("data-koersdag")
	if id == "" {
		return nil
	}
	return &models.Event{
		ID:        id,
		Date:      parser.CollapseSpaces(e.DOM.Find("div.ndr-agenda-datum").First().Text()),
		Month:     e.Request.Ctx.Get("month"),
		Year:      e.Request.Ctx.Get("year"),
		ScrapedAt: time.Now(),
	}
}

// visitWithRetry issues a blocking fetch, retrying transient failures with
// capped exponential backoff. The returned error is the classified error of
// the final attempt.
func (s *Scraper) visitWithRetry(ctx context.Context, pageURL string, reqCtx *colly.Context) error {
	for attempt := 0; ; attempt++ {
		err := s.collector.Request(http.MethodGet, pageURL, nil, reqCtx, nil)
		if err == nil {
			return nil
		}

		classified := err
		if stored, ok := reqCtx.GetAny("classified").(error); ok && stored != nil {
			classified = stored
		} else {
			classified = classifyError(err, 0)
		}
		reqCtx.Put("classified", nil)

		if attempt >= s.cfg.MaxRetries || !retryable(classified) {
			return classified
		}
		slog.Debug("retrying page",
			slog.String("url", pageURL),
			slog.Int("attempt", attempt+1),
			slog.Any("error", classified),
		)
		if !s.retry.wait(ctx, attempt+1) {
			return classified
		}
	}
}

// addScrapeError records a per-page failure and lets the run continue.
func (s *Scraper) addScrapeError(ref, pageURL string, err error) {
	label := errorTypeLabel(err)
	s.Metrics.IncError(label)

	s.mu.Lock()
	s.scrapeErrors = append(s.scrapeErrors, &models.ScrapeError{
		Ref:     ref,
		URL:     pageURL,
		Message: err.Error(),
	})
	s.failedURLs = append(s.failedURLs, pageURL)
	s.errorsByType[label]++
	s.mu.Unlock()

	slog.Error("scrape error",
		slog.String("ref", ref),
		slog.String("url", pageURL),
		slog.String("category", label),
		slog.Any("error", err),
	)
}

func (s *Scraper) snapshotEvents() []*models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Scraper) listingURL(month models.Month) string {
	u, _ := url.Parse(s.cfg.ListingURL)
	q := u.Query()
	q.Set("ndr-koersen-jaar", month.QueryYear())
	q.Set("ndr-koersen-maand", month.QueryMonth())
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Scraper) resultsURL(eventID string) string {
	u, _ := url.Parse(s.cfg.ResultsURL)
	q := u.Query()
	q.Set("action", "do_search")
	q.Set("koersdag", eventID)
	q.Set("koersnr", "1")
	q.Set("isAgenda", "0")
	q.Set("paard", "false")
	u.RawQuery = q.Encode()
	return u.String()
}

func bumpSections(ctx *colly.Context) {
	sections, _ := ctx.GetAny("sections").(int)
	ctx.Put("sections", sections+1)
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return err
}

// retrier tracks retry attempts and sleeps the capped exponential backoff
// between them. The sleep is interruptible through the run context.
type retrier struct {
	cfg     *config.Config
	metrics *Metrics

	mu           sync.Mutex
	totalRetries int
}

func newRetrier(cfg *config.Config, metrics *Metrics) *retrier {
	return &retrier{cfg: cfg, metrics: metrics}
}

// wait blocks for the backoff of the given attempt. It returns false when
// the context was cancelled before the delay elapsed.
func (r *retrier) wait(ctx context.Context, attempt int) bool {
	r.mu.Lock()
	r.totalRetries++
	r.mu.Unlock()
	r.metrics.IncRetries()

	timer := time.NewTimer(r.backoff(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *retrier) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := r.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := r.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (r *retrier) TotalRetries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRetries
}
