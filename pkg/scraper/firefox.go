package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/extrecon/extrecon/pkg/extension"
)

const amoAPIBase = "https://addons.mozilla.org/api/v5/addons"

// firefoxIDPattern accepts AMO slugs, GUIDs, and email-style add-on
// identifiers.
var firefoxIDPattern = regexp.MustCompile(`^[A-Za-z0-9@._{}-]+$`)

// firefoxScraper resolves add-ons through the addons.mozilla.org v5
// API. Unlike the browser stores this is a real JSON API, so the
// adapter mostly flattens localized fields.
type firefoxScraper struct {
	c *client

	// Overridable in tests.
	apiBase string
}

func newFirefoxScraper(c *client) *firefoxScraper {
	return &firefoxScraper{c: c, apiBase: amoAPIBase}
}

func (s *firefoxScraper) Store() extension.Store { return extension.StoreFirefox }

func (s *firefoxScraper) ValidateID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && firefoxIDPattern.MatchString(id)
}

// NormalizeID preserves case: AMO GUIDs are case sensitive.
func (s *firefoxScraper) NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

func (s *firefoxScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("https://addons.mozilla.org/en-US/firefox/addon/%s/", id)
}

// localized is an AMO field that may arrive as a plain string or as a
// locale-to-string object.
type localized string

func (l *localized) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*l = localized(plain)
		return nil
	}

	var byLocale map[string]*string
	if err := json.Unmarshal(data, &byLocale); err != nil {
		return err
	}
	if v := byLocale["en-US"]; v != nil {
		*l = localized(*v)
		return nil
	}
	for _, v := range byLocale {
		if v != nil {
			*l = localized(*v)
			return nil
		}
	}
	*l = ""
	return nil
}

type amoAddon struct {
	GUID    string    `json:"guid"`
	Slug    string    `json:"slug"`
	Name    localized `json:"name"`
	Summary localized `json:"summary"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	CurrentVersion struct {
		Version string `json:"version"`
		File    struct {
			Permissions []string `json:"permissions"`
		} `json:"file"`
	} `json:"current_version"`
	AverageDailyUsers int64 `json:"average_daily_users"`
	Ratings           struct {
		Average float64 `json:"average"`
		Count   int64   `json:"count"`
	} `json:"ratings"`
	LastUpdated string          `json:"last_updated"`
	IconURL     string          `json:"icon_url"`
	URL         localized       `json:"url"`
	Homepage    json.RawMessage `json:"homepage"`
	Categories  json.RawMessage `json:"categories"`
}

func (s *firefoxScraper) Scrape(ctx context.Context, id string, opts Options) (*extension.Record, error) {
	id = s.NormalizeID(id)
	endpoint := fmt.Sprintf("%s/addon/%s/", s.apiBase, url.PathEscape(id))

	status, body, err := s.c.get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, &ScrapeError{Store: s.Store(), ID: id, Op: "fetch addon", Err: err}
	}
	if status == http.StatusNotFound {
		return extension.NotFound(id, s.Store(), s.ExtensionURL(id)), nil
	}
	if status != http.StatusOK {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "fetch addon",
			Err: fmt.Errorf("%w: %d", ErrUpstreamStatus, status),
		}
	}

	var addon amoAddon
	if err := json.Unmarshal(body, &addon); err != nil {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "decode addon",
			Err: fmt.Errorf("%w: %v", ErrUpstreamFormat, err),
		}
	}

	return s.recordFromAddon(id, &addon), nil
}

func (s *firefoxScraper) recordFromAddon(id string, addon *amoAddon) *extension.Record {
	rec := &extension.Record{
		ID:          id,
		Store:       s.Store(),
		Name:        string(addon.Name),
		Description: string(addon.Summary),
		Version:     addon.CurrentVersion.Version,
		UserCount:   formatCount(addon.AverageDailyUsers),
		Rating:      formatRating(addon.Ratings.Average),
		RatingCount: formatCount(addon.Ratings.Count),
		LastUpdated: addon.LastUpdated,
		IconURL:     addon.IconURL,
		StoreURL:    string(addon.URL),
		Permissions: addon.CurrentVersion.File.Permissions,
		Found:       true,
	}

	if rec.StoreURL == "" {
		rec.StoreURL = s.ExtensionURL(id)
	}
	if len(addon.Authors) > 0 {
		names := make([]string, 0, len(addon.Authors))
		for _, a := range addon.Authors {
			if a.Name != "" {
				names = append(names, a.Name)
			}
		}
		rec.Publisher = strings.Join(names, ", ")
	}
	rec.Category = firstCategory(addon.Categories)
	rec.HomepageURL = homepageURL(addon.Homepage)

	return rec
}

// firstCategory handles both category shapes the API has served: a
// plain list of slugs and an app-keyed map of lists.
func firstCategory(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	var byApp map[string][]string
	if err := json.Unmarshal(raw, &byApp); err == nil {
		if fx := byApp["firefox"]; len(fx) > 0 {
			return fx[0]
		}
	}
	return ""
}

// homepageURL extracts the outgoing homepage link, which arrives as
// either a localized string or an object wrapping one.
func homepageURL(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var direct localized
	if err := json.Unmarshal(raw, &direct); err == nil && direct != "" {
		return string(direct)
	}
	var wrapped struct {
		URL localized `json:"url"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return string(wrapped.URL)
	}
	return ""
}

// SearchByName queries the AMO search API.
func (s *firefoxScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	endpoint := fmt.Sprintf("%s/search/?q=%s&app=firefox&page_size=%d",
		s.apiBase, url.QueryEscape(name), limit)

	status, body, err := s.c.get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, &ScrapeError{Store: s.Store(), ID: name, Op: "search", Err: err}
	}
	if status != http.StatusOK {
		return nil, &ScrapeError{
			Store: s.Store(), ID: name, Op: "search",
			Err: fmt.Errorf("%w: %d", ErrUpstreamStatus, status),
		}
	}

	var page struct {
		Results []amoAddon `json:"results"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &ScrapeError{
			Store: s.Store(), ID: name, Op: "decode search",
			Err: fmt.Errorf("%w: %v", ErrUpstreamFormat, err),
		}
	}

	records := make([]extension.Record, 0, len(page.Results))
	for _, addon := range page.Results {
		id := addon.Slug
		if id == "" {
			id = addon.GUID
		}
		records = append(records, *s.recordFromAddon(id, &addon))
	}
	return records, nil
}
