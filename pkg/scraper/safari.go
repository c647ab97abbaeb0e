package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/extrecon/extrecon/pkg/extension"
)

const itunesLookupURL = "https://itunes.apple.com/lookup?id=%s&country=us"

// safariIDPattern matches App Store numeric track identifiers.
var safariIDPattern = regexp.MustCompile(`^\d{6,12}$`)

// safariScraper resolves Safari extensions through the iTunes lookup
// API. Safari extensions ship as Mac App Store apps, so the identifier
// is the numeric track id and permissions are never available.
type safariScraper struct {
	c *client

	// Overridable in tests.
	lookupURL string
}

func newSafariScraper(c *client) *safariScraper {
	return &safariScraper{c: c, lookupURL: itunesLookupURL}
}

func (s *safariScraper) Store() extension.Store { return extension.StoreSafari }

func (s *safariScraper) ValidateID(id string) bool {
	id = strings.TrimSpace(id)
	return safariIDPattern.MatchString(strings.TrimPrefix(id, "id"))
}

// NormalizeID strips the optional "id" prefix App Store URLs carry.
func (s *safariScraper) NormalizeID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "id")
}

func (s *safariScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("https://apps.apple.com/app/id%s", id)
}

type itunesResult struct {
	TrackID                   int64   `json:"trackId"`
	TrackName                 string  `json:"trackName"`
	ArtistName                string  `json:"artistName"`
	Description               string  `json:"description"`
	Version                   string  `json:"version"`
	AverageUserRating         float64 `json:"averageUserRating"`
	UserRatingCount           int64   `json:"userRatingCount"`
	CurrentVersionReleaseDate string  `json:"currentVersionReleaseDate"`
	ArtworkURL100             string  `json:"artworkUrl100"`
	TrackViewURL              string  `json:"trackViewUrl"`
	PrimaryGenreName          string  `json:"primaryGenreName"`
	SellerURL                 string  `json:"sellerUrl"`
}

func (s *safariScraper) Scrape(ctx context.Context, id string, opts Options) (*extension.Record, error) {
	id = s.NormalizeID(id)
	pageURL := s.ExtensionURL(id)

	status, body, err := s.c.get(ctx, fmt.Sprintf(s.lookupURL, id),
		map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, &ScrapeError{Store: s.Store(), ID: id, Op: "lookup", Err: err}
	}
	if status != http.StatusOK {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "lookup",
			Err: fmt.Errorf("%w: %d", ErrUpstreamStatus, status),
		}
	}

	var payload struct {
		ResultCount int            `json:"resultCount"`
		Results     []itunesResult `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "decode lookup",
			Err: fmt.Errorf("%w: %v", ErrUpstreamFormat, err),
		}
	}

	// The lookup API answers 200 with an empty result list for unknown
	// identifiers.
	if payload.ResultCount == 0 || len(payload.Results) == 0 {
		return extension.NotFound(id, s.Store(), pageURL), nil
	}

	app := payload.Results[0]
	rec := &extension.Record{
		ID:          id,
		Store:       s.Store(),
		Name:        app.TrackName,
		Publisher:   app.ArtistName,
		Description: app.Description,
		Version:     app.Version,
		Rating:      formatRating(app.AverageUserRating),
		RatingCount: formatCount(app.UserRatingCount),
		Category:    app.PrimaryGenreName,
		IconURL:     app.ArtworkURL100,
		HomepageURL: app.SellerURL,
		StoreURL:    app.TrackViewURL,
		Found:       true,
	}
	if rec.StoreURL == "" {
		rec.StoreURL = pageURL
	}
	if app.CurrentVersionReleaseDate != "" {
		rec.LastUpdated = app.CurrentVersionReleaseDate
	}

	return rec, nil
}

// SearchByName is unsupported: lookup-by-id is the only stable surface.
func (s *safariScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	return nil, nil
}
