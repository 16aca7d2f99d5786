package models

import "time"

// Source identifies which frontier source discovered a candidate
type Source string

const (
	SourceSitemap  Source = "sitemap"
	SourceCategory Source = "category"
)

// CandidateURL is a unit of frontier work, consumed at most once per run
type CandidateURL struct {
	URL      string
	Source   Source
	Category string
	AdID     string // Id captured during discovery, may be empty
}

// RawPage is the result of a successful fetch, independent of the strategy used
type RawPage struct {
	URL         string    // URL that was requested
	FinalURL    string    // URL after redirects
	StatusCode  int       // HTTP status (browser strategy reports the main document's status)
	ContentType string    // Media type without parameters, e.g. "text/html"
	Body        []byte    // Raw page content
	FetchedAt   time.Time // When the fetch completed
	Via         string    // Strategy name that produced the page ("http" or "browser")
}

// Listing is one classified ad. Scalar fields are nullable: a nil pointer means extraction found nothing.
type Listing struct {
	AdID     string `json:"ad_id"`
	URL      string `json:"url"`
	Category string `json:"category,omitempty"`

	Title            *string `json:"title,omitempty"`
	PriceHUF         *int64  `json:"price_huf,omitempty"`
	PriceDiscountHUF *int64  `json:"price_discount_huf,omitempty"`
	Currency         *string `json:"currency,omitempty"`
	Year             *int    `json:"year,omitempty"`
	YearMonth        *string `json:"year_month,omitempty"` // Raw value, e.g. "2016/5"
	MileageKM        *int64  `json:"mileage_km,omitempty"`
	Fuel             *string `json:"fuel,omitempty"`
	EngineCC         *int    `json:"engine_cc,omitempty"`
	PowerKW          *int    `json:"power_kw,omitempty"`
	PowerHP          *int    `json:"power_hp,omitempty"`
	Transmission     *string `json:"transmission,omitempty"`
	Drivetrain       *string `json:"drivetrain,omitempty"`
	BodyType         *string `json:"body_type,omitempty"`
	Color            *string `json:"color,omitempty"`
	Condition        *string `json:"condition,omitempty"`
	Doors            *int    `json:"doors,omitempty"`
	Seats            *int    `json:"seats,omitempty"`
	SellerName       *string `json:"seller_name,omitempty"`
	SellerType       *string `json:"seller_type,omitempty"` // "dealer" or "private"
	Location         *string `json:"location,omitempty"`
	Description      *string `json:"description,omitempty"` // Markdown

	Equipment  []string          `json:"equipment"`  // Distinct, in page order
	Images     []string          `json:"images"`     // Absolute URLs, in page order, never fetched
	Attributes map[string]string `json:"attributes"` // Raw label -> value pairs not promoted to a typed field

	RawHTML     *string   `json:"raw_html,omitempty"` // Only when store-html is requested
	ContentHash string    `json:"content_hash,omitempty"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// URLOutcomeEntry records the last outcome of a candidate URL in the run ledger
type URLOutcomeEntry struct {
	State       URLState  `json:"state"`
	Source      Source    `json:"source,omitempty"`
	AdID        string    `json:"ad_id,omitempty"`
	ErrorType   string    `json:"error_type,omitempty"` // utils.CategorizeError output (on failure)
	Via         string    `json:"via,omitempty"`        // Strategy that fetched the page
	LastAttempt time.Time `json:"last_attempt"`
}

// RunStats are the end-of-run counters
type RunStats struct {
	Fetched     int  `json:"fetched"`
	Denied      int  `json:"denied"`
	Failed      int  `json:"failed"`
	ParseFailed int  `json:"parse_failed"`
	Stored      int  `json:"stored"`
	Skipped     int  `json:"skipped"`   // Already seen in the store, force not set
	Cancelled   bool `json:"cancelled"` // Stopped by the listing cap

	FailureCategories map[string]int `json:"failure_categories,omitempty"`
}

// RecordFailure bumps the counter for an error category
func (s *RunStats) RecordFailure(category string) {
	if s.FailureCategories == nil {
		s.FailureCategories = make(map[string]int)
	}
	s.FailureCategories[category]++
}

// RunRecord is one row of the crawl_runs table
type RunRecord struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	RunStats
}

// Ptr returns a pointer to v, for filling nullable listing fields.
func Ptr[T any](v T) *T {
	return &v
}
