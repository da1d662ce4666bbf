// Package ergast fetches Formula 1 statistics from an Ergast-style
// paginated REST API (ergast.com and its jolpica successor speak this
// shape): GET {base}/{path}.json?limit=N&offset=M returning an MRData
// envelope whose numeric values arrive as JSON strings.
package ergast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gridstat/gridkit"
)

const (
	// DefaultBaseURL is the public jolpica mirror of the Ergast API.
	DefaultBaseURL = "https://api.jolpi.ca/ergast/f1"

	// DefaultPageLimit is the page size requested from the API.
	DefaultPageLimit = 100

	// DefaultTimeout bounds each page request.
	DefaultTimeout = 30 * time.Second
)

// Source streams one entity's listing page by page, implementing
// gridkit.Source. Pages are fetched lazily: a request goes out only when
// the buffered page is exhausted, and a failed fetch leaves the offset
// unchanged so a retry refetches the same page. The listing is considered
// exhausted after a page returns fewer items than the requested limit.
//
// Failure classification: transport errors, HTTP 429, and HTTP 5xx are
// transient (the Runner retries them with backoff); any other non-200
// status and malformed payloads abort the run.
type Source struct {
	entity    Entity
	base      string
	client    *http.Client
	limit     int
	season    int
	after     gridkit.Cursor
	haveAfter bool

	buf    []map[string]interface{}
	offset int
	done   bool
}

// Option is a functional option for NewSource.
type Option func(*Source)

// WithClient sets the HTTP client. The default client applies
// DefaultTimeout.
func WithClient(c *http.Client) Option {
	return func(s *Source) { s.client = c }
}

// WithBaseURL points the source at a different API root.
func WithBaseURL(base string) Option {
	return func(s *Source) { s.base = strings.TrimRight(base, "/") }
}

// WithPageLimit sets the page size requested from the API.
func WithPageLimit(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithSeason sets the season used for season-scoped entity paths and
// injected into roster records. Defaults to the current year.
func WithSeason(year int) Option {
	return func(s *Source) {
		if year > 0 {
			s.season = year
		}
	}
}

// WithAfter passes an exclusive cursor lower bound to the server so rows
// already ingested need not be transferred. The Runner enforces the bound
// client-side regardless, so servers may ignore the parameter.
func WithAfter(c gridkit.Cursor) Option {
	return func(s *Source) {
		s.after = c
		s.haveAfter = true
	}
}

// NewSource builds a Source for one entity listing.
func NewSource(entity Entity, opts ...Option) *Source {
	s := &Source{
		entity: entity,
		base:   DefaultBaseURL,
		client: &http.Client{Timeout: DefaultTimeout},
		limit:  DefaultPageLimit,
		season: time.Now().Year(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements gridkit.Source. It returns the next raw record,
// fetching the next page when needed, and io.EOF once the listing is
// exhausted.
func (s *Source) Record(ctx context.Context) (map[string]interface{}, error) {
	for len(s.buf) == 0 {
		if s.done {
			return nil, io.EOF
		}
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
	raw := s.buf[0]
	s.buf = s.buf[1:]
	return raw, nil
}

func (s *Source) pageURL() string {
	path := s.entity.Path
	if s.entity.SeasonScoped {
		path = fmt.Sprintf("%d/%s", s.season, path)
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(s.limit))
	q.Set("offset", strconv.Itoa(s.offset))
	if s.haveAfter {
		q.Set("after", strconv.FormatInt(int64(s.after), 10))
	}
	return fmt.Sprintf("%s/%s.json?%s", s.base, path, q.Encode())
}

func (s *Source) fetchPage(ctx context.Context) error {
	u := s.pageURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return gridkit.Transient(errors.Wrapf(err, "getting %s", u))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return gridkit.Transient(errors.Errorf("GET %s: %s", u, resp.Status))
	default:
		io.Copy(io.Discard, resp.Body)
		return errors.Errorf("GET %s: %s", u, resp.Status)
	}

	items, err := decodePage(resp.Body, s.entity)
	if err != nil {
		return errors.Wrapf(err, "GET %s", u)
	}

	for _, item := range items {
		records := []map[string]interface{}{item}
		if s.entity.Expand != nil {
			records = s.entity.Expand(item)
		}
		for _, rec := range records {
			if s.entity.Enrich != nil {
				s.entity.Enrich(rec, s.season)
			}
			s.buf = append(s.buf, rec)
		}
	}

	// A short or empty page means the listing is exhausted.
	if len(items) < s.limit {
		s.done = true
	}
	s.offset += len(items)
	return nil
}

func decodePage(r io.Reader, e Entity) ([]map[string]interface{}, error) {
	var env struct {
		MRData map[string]interface{} `json:"MRData"`
	}
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decoding envelope")
	}
	if env.MRData == nil {
		return nil, errors.New("response has no MRData envelope")
	}
	table, ok := env.MRData[e.Table].(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("envelope has no %q table", e.Table)
	}
	rawList, ok := table[e.List]
	if !ok || rawList == nil {
		return nil, nil
	}
	list, ok := rawList.([]interface{})
	if !ok {
		return nil, errors.Errorf("%s.%s is not a list", e.Table, e.List)
	}
	items := make([]map[string]interface{}, 0, len(list))
	for i, el := range list {
		m, ok := el.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf("%s.%s[%d] is not an object", e.Table, e.List, i)
		}
		items = append(items, m)
	}
	return items, nil
}
