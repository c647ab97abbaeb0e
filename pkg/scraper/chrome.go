package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/extrecon/extrecon/pkg/extension"
	"golang.org/x/net/html"
)

const chromeStoreBase = "https://chromewebstore.google.com/detail"

// chromeIDPattern matches Chrome Web Store identifiers: exactly 32
// lowercase letters a-p.
var chromeIDPattern = regexp.MustCompile(`^[a-p]{32}$`)

var (
	chromeUserCountPattern = regexp.MustCompile(`([\d,]+)\s+users`)
	chromeVersionPattern   = regexp.MustCompile(`"version"\s*:\s*"([^"]+)"`)
	chromeUpdatedPattern   = regexp.MustCompile(`Updated[^<]*</div><div[^>]*>([^<]+)<`)
)

// chromeErrorIndicators appear on Chrome Web Store pages served for
// removed or never-published identifiers. The store answers 200 for
// those, so status alone does not decide absence.
var chromeErrorIndicators = []string{
	"this item is not available",
	"item not found",
	"the requested page was not found",
}

// chromeScraper scrapes the Chrome Web Store detail page. The store has
// no public metadata API, so metadata comes from the embedded ld+json
// block with regex fallbacks over the raw page.
type chromeScraper struct {
	c *client

	// Overridable in tests.
	baseURL string
	crxURL  string
}

func newChromeScraper(c *client) *chromeScraper {
	return &chromeScraper{c: c, baseURL: chromeStoreBase, crxURL: chromeCrxURL}
}

func (s *chromeScraper) Store() extension.Store { return extension.StoreChrome }

func (s *chromeScraper) ValidateID(id string) bool {
	return chromeIDPattern.MatchString(strings.TrimSpace(strings.ToLower(id)))
}

func (s *chromeScraper) NormalizeID(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

func (s *chromeScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, id)
}

func (s *chromeScraper) Scrape(ctx context.Context, id string, opts Options) (*extension.Record, error) {
	id = s.NormalizeID(id)
	pageURL := s.ExtensionURL(id)

	status, body, err := s.c.get(ctx, pageURL, nil)
	if err != nil {
		return nil, &ScrapeError{Store: s.Store(), ID: id, Op: "fetch page", Err: err}
	}
	if status == http.StatusNotFound {
		return extension.NotFound(id, s.Store(), pageURL), nil
	}
	if status != http.StatusOK {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "fetch page",
			Err: fmt.Errorf("%w: %d", ErrUpstreamStatus, status),
		}
	}

	lower := strings.ToLower(string(body))
	for _, indicator := range chromeErrorIndicators {
		if strings.Contains(lower, indicator) {
			return extension.NotFound(id, s.Store(), pageURL), nil
		}
	}

	rec := &extension.Record{
		ID:       id,
		Store:    s.Store(),
		StoreURL: pageURL,
		Found:    true,
	}

	s.applyLinkedData(body, rec)
	s.applyFallbacks(body, rec)

	// A page with no extractable name is treated as absent rather than
	// returning an empty shell.
	if rec.Name == "" {
		return extension.NotFound(id, s.Store(), pageURL), nil
	}

	if opts.IncludePermissions {
		perms, err := s.fetchPermissions(ctx, id)
		if err == nil {
			rec.Permissions = perms
		}
		// Permission extraction is best effort; the page metadata is
		// still worth returning when the package fetch fails.
	}

	return rec, nil
}

// SearchByName is unsupported: the Chrome Web Store exposes no search
// API.
func (s *chromeScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	return nil, nil
}

// chromeLinkedData is the subset of the page's ld+json block we use.
type chromeLinkedData struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Image           string `json:"image"`
	Version         string `json:"version"`
	AggregateRating struct {
		RatingValue json.Number `json:"ratingValue"`
		RatingCount json.Number `json:"ratingCount"`
	} `json:"aggregateRating"`
	Author struct {
		Name string `json:"name"`
	} `json:"author"`
	ApplicationCategory string `json:"applicationCategory"`
}

func (s *chromeScraper) applyLinkedData(body []byte, rec *extension.Record) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return
	}

	var ld chromeLinkedData
	found := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, attr := range n.Attr {
				if attr.Key == "type" && attr.Val == "application/ld+json" {
					if n.FirstChild != nil {
						if err := json.Unmarshal([]byte(n.FirstChild.Data), &ld); err == nil && ld.Name != "" {
							found = true
						}
					}
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !found {
		return
	}

	rec.Name = html.UnescapeString(ld.Name)
	rec.Description = html.UnescapeString(ld.Description)
	rec.IconURL = ld.Image
	rec.Version = ld.Version
	rec.Publisher = html.UnescapeString(ld.Author.Name)
	rec.Category = ld.ApplicationCategory
	rec.Rating = ld.AggregateRating.RatingValue.String()
	rec.RatingCount = ld.AggregateRating.RatingCount.String()
}

// applyFallbacks fills fields the ld+json block does not carry from
// patterns over the raw page.
func (s *chromeScraper) applyFallbacks(body []byte, rec *extension.Record) {
	page := string(body)

	if rec.UserCount == "" {
		if m := chromeUserCountPattern.FindStringSubmatch(page); m != nil {
			rec.UserCount = m[1]
		}
	}
	if rec.Version == "" {
		if m := chromeVersionPattern.FindStringSubmatch(page); m != nil {
			rec.Version = m[1]
		}
	}
	if rec.LastUpdated == "" {
		if m := chromeUpdatedPattern.FindStringSubmatch(page); m != nil {
			rec.LastUpdated = strings.TrimSpace(m[1])
		}
	}
}
