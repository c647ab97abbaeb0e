package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/extrecon/extrecon/pkg/extension"
)

const edgeDetailsURL = "https://microsoftedge.microsoft.com/addons/getproductdetailsbycrxid/%s"

// edgeScraper resolves add-ons through the undocumented Edge Add-ons
// product details endpoint. The response embeds the extension manifest
// as a JSON string, which is where permissions come from.
type edgeScraper struct {
	c *client

	// Overridable in tests.
	detailsURL string
}

func newEdgeScraper(c *client) *edgeScraper {
	return &edgeScraper{c: c, detailsURL: edgeDetailsURL}
}

func (s *edgeScraper) Store() extension.Store { return extension.StoreEdge }

func (s *edgeScraper) ValidateID(id string) bool {
	return chromeIDPattern.MatchString(strings.TrimSpace(strings.ToLower(id)))
}

func (s *edgeScraper) NormalizeID(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

func (s *edgeScraper) ExtensionURL(id string) string {
	return fmt.Sprintf("https://microsoftedge.microsoft.com/addons/detail/%s", id)
}

type edgeProduct struct {
	Name                string  `json:"name"`
	ShortDescription    string  `json:"shortDescription"`
	Version             string  `json:"version"`
	Developer           string  `json:"developer"`
	ActiveInstallCount  int64   `json:"activeInstallCount"`
	AverageRating       float64 `json:"averageRating"`
	RatingCount         int64   `json:"ratingCount"`
	Category            string  `json:"category"`
	LogoURL             string  `json:"logoUrl"`
	ExtensionWebsiteURL string  `json:"extensionWebsiteUrl"`
	PrivacyWebsiteURL   string  `json:"privacyWebsiteUrl"`
	LastUpdateDate      int64   `json:"lastUpdateDate"`
	Manifest            string  `json:"manifest"`
}

func (s *edgeScraper) Scrape(ctx context.Context, id string, opts Options) (*extension.Record, error) {
	id = s.NormalizeID(id)
	pageURL := s.ExtensionURL(id)

	status, body, err := s.c.get(ctx, fmt.Sprintf(s.detailsURL, id),
		map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, &ScrapeError{Store: s.Store(), ID: id, Op: "fetch product", Err: err}
	}
	if status == http.StatusNotFound {
		return extension.NotFound(id, s.Store(), pageURL), nil
	}
	if status != http.StatusOK {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "fetch product",
			Err: fmt.Errorf("%w: %d", ErrUpstreamStatus, status),
		}
	}

	var product edgeProduct
	if err := json.Unmarshal(body, &product); err != nil {
		return nil, &ScrapeError{
			Store: s.Store(), ID: id, Op: "decode product",
			Err: fmt.Errorf("%w: %v", ErrUpstreamFormat, err),
		}
	}
	if product.Name == "" {
		return extension.NotFound(id, s.Store(), pageURL), nil
	}

	rec := &extension.Record{
		ID:               id,
		Store:            s.Store(),
		Name:             product.Name,
		Description:      product.ShortDescription,
		Version:          product.Version,
		Publisher:        product.Developer,
		UserCount:        formatCount(product.ActiveInstallCount),
		Rating:           formatRating(product.AverageRating),
		RatingCount:      formatCount(product.RatingCount),
		Category:         product.Category,
		IconURL:          fixSchemeRelative(product.LogoURL),
		HomepageURL:      product.ExtensionWebsiteURL,
		PrivacyPolicyURL: product.PrivacyWebsiteURL,
		StoreURL:         pageURL,
		Found:            true,
	}
	if product.LastUpdateDate > 0 {
		rec.LastUpdated = time.UnixMilli(product.LastUpdateDate).UTC().Format("2006-01-02")
	}
	if product.Manifest != "" {
		if perms, err := manifestPermissions([]byte(product.Manifest)); err == nil {
			rec.Permissions = perms
		}
	}

	return rec, nil
}

// SearchByName is unsupported: the Edge Add-ons site exposes no public
// search API.
func (s *edgeScraper) SearchByName(ctx context.Context, name string, limit int) ([]extension.Record, error) {
	return nil, nil
}

// fixSchemeRelative completes protocol-relative asset URLs the product
// endpoint returns.
func fixSchemeRelative(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
