package external

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

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/trial-matcher-server/internal/domain"
)

const (
	defaultCTGovBaseURL   = "https://beta-ut.clinicaltrials.gov/api/v2"
	defaultCTGovPageSize  = 100
	defaultCTGovPageDelay = 200 * time.Millisecond
	defaultCTGovTimeout   = 60 * time.Second
)

// DefaultTrialStatuses are the overall statuses fetched when none are given.
var DefaultTrialStatuses = []string{"RECRUITING", "NOT_YET_RECRUITING"}

// CTGovClient pages through the ClinicalTrials.gov v2 studies endpoint.
type CTGovClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	statuses   []string
	pageSize   int
	pageDelay  time.Duration
	logger     *logrus.Logger
}

// StudyQuery narrows a studies search.
type StudyQuery struct {
	Condition string
	Term      string
	State     string
	Country   string
	Statuses  []string
	MaxPages  int
}

// Study is one study from the v2 API. Raw holds the full document.
type Study struct {
	ProtocolSection ProtocolSection `json:"protocolSection"`
	Raw             json.RawMessage `json:"-"`
}

// ProtocolSection holds the modules read during ingestion.
type ProtocolSection struct {
	IdentificationModule struct {
		NCTID         string `json:"nctId"`
		BriefTitle    string `json:"briefTitle"`
		OfficialTitle string `json:"officialTitle"`
	} `json:"identificationModule"`
	ConditionsModule struct {
		Conditions []string `json:"conditions"`
	} `json:"conditionsModule"`
	EligibilityModule       json.RawMessage `json:"eligibilityModule"`
	ContactsLocationsModule json.RawMessage `json:"contactsLocationsModule"`
}

// UnmarshalJSON keeps the original bytes alongside the parsed sections.
func (s *Study) UnmarshalJSON(data []byte) error {
	var parsed struct {
		ProtocolSection ProtocolSection `json:"protocolSection"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}
	s.ProtocolSection = parsed.ProtocolSection
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type studiesPage struct {
	Studies       []Study `json:"studies"`
	NextPageToken string  `json:"nextPageToken"`
	TotalCount    int     `json:"totalCount"`
}

// NewCTGovClient creates a new ClinicalTrials.gov client
func NewCTGovClient(config domain.CTGovConfig, logger *logrus.Logger) *CTGovClient {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultCTGovBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultCTGovTimeout
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = defaultCTGovPageSize
	}
	pageDelay := config.PageDelay
	if pageDelay < 0 {
		pageDelay = 0
	} else if pageDelay == 0 {
		pageDelay = defaultCTGovPageDelay
	}
	statuses := config.Statuses
	if len(statuses) == 0 {
		statuses = DefaultTrialStatuses
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &CTGovClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		rateLimit:  rate.NewLimiter(limit, 1),
		breaker:    NewCircuitBreaker("ctgov", DefaultCircuitBreakerConfig(), logger),
		statuses:   statuses,
		pageSize:   pageSize,
		pageDelay:  pageDelay,
		logger:     logger,
	}
}

// FetchStudies returns up to MaxPages pages of studies matching q.
func (c *CTGovClient) FetchStudies(ctx context.Context, q StudyQuery) ([]Study, error) {
	maxPages := q.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	params := c.baseParams(q)

	var studies []Study
	pageToken := ""
	for page := 0; page < maxPages; page++ {
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		result, err := c.fetchPage(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch studies page %d: %w", page+1, err)
		}
		studies = append(studies, result.Studies...)

		c.logger.WithFields(logrus.Fields{
			"page":        page + 1,
			"studies":     len(result.Studies),
			"total_count": result.TotalCount,
		}).Debug("Fetched ClinicalTrials.gov page")

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
		if page+1 < maxPages {
			if err := sleepContext(ctx, c.pageDelay); err != nil {
				return nil, err
			}
		}
	}
	return studies, nil
}

func (c *CTGovClient) baseParams(q StudyQuery) url.Values {
	statuses := q.Statuses
	if len(statuses) == 0 {
		statuses = c.statuses
	}

	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	params.Set("countTotal", "true")
	params.Set("filter.overallStatus", strings.Join(statuses, ","))
	if q.Condition != "" {
		params.Set("query.cond", q.Condition)
	}
	if q.Term != "" {
		params.Set("query.term", q.Term)
	}
	if locn := LocationQuery(q.State, q.Country); locn != "" {
		params.Set("query.locn", locn)
	}
	return params
}

// LocationQuery renders query.locn: "state, country" when both are known,
// the country alone otherwise. A state without a country is ignored.
func LocationQuery(state, country string) string {
	state, country = strings.TrimSpace(state), strings.TrimSpace(country)
	switch {
	case country != "" && state != "":
		return state + ", " + country
	case country != "":
		return country
	default:
		return ""
	}
}

func (c *CTGovClient) fetchPage(ctx context.Context, params url.Values) (*studiesPage, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, c.baseURL+"/studies?"+params.Encode())
	})
	if err != nil {
		return nil, err
	}
	return out.(*studiesPage), nil
}

func (c *CTGovClient) doRequest(ctx context.Context, endpoint string) (*studiesPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "trial-matcher-server/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var page studiesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &page, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
