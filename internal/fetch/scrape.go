package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	colly "github.com/gocolly/colly/v2"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Scrape collector defaults.
const (
	scrapeParallelism = 2
	scrapeDelay       = 1 * time.Second
	scrapeMaxDepth    = 2
	scrapeUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// productTileSelectors are tried in order against catalog pages. Coffee
// storefronts vary, but product grids almost always mark tiles with one
// of these.
var productTileSelectors = []string{
	"li.grid__item",
	"div.product-card",
	"li.product",
	"article.product-item",
}

// ScrapeStrategy drives a DOM scraper against the storefront HTML. It
// is the expensive tier: many page loads per run, so every attempt is
// gated by the rate limiter and the budget ledger before this strategy
// is ever invoked.
type ScrapeStrategy struct {
	// transport overrides the collector transport. Test hook.
	transport http.RoundTripper
}

// NewScrapeStrategy creates the scrape fallback strategy.
func NewScrapeStrategy() *ScrapeStrategy {
	return &ScrapeStrategy{}
}

// WithTransport overrides the HTTP transport. Test hook.
func (s *ScrapeStrategy) WithTransport(rt http.RoundTripper) *ScrapeStrategy {
	s.transport = rt
	return s
}

// Name implements Strategy.
func (s *ScrapeStrategy) Name() domain.Strategy {
	return domain.StrategyScrape
}

// Fetch implements Strategy. It walks the storefront's collection pages
// and extracts product tiles with goquery selectors.
func (s *ScrapeStrategy) Fetch(
	ctx context.Context,
	roaster domain.Roaster,
	_ domain.JobType,
) (*Payload, error) {
	if roaster.BaseURL == "" {
		return nil, domain.Permanentf("roaster %s has no base URL", roaster.ID)
	}

	collector := colly.NewCollector(
		colly.MaxDepth(scrapeMaxDepth),
		colly.UserAgent(scrapeUserAgent),
		colly.StdlibContext(ctx),
	)
	if s.transport != nil {
		collector.WithTransport(s.transport)
	}
	if limitErr := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: scrapeParallelism,
		Delay:       scrapeDelay,
	}); limitErr != nil {
		return nil, domain.Permanentf("configure scrape collector: %v", limitErr)
	}

	var (
		products []domain.Product
		raw      []byte
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		raw = append(raw, r.Body...)
	})

	for _, selector := range productTileSelectors {
		collector.OnHTML(selector, func(e *colly.HTMLElement) {
			if p, ok := tileToProduct(e.DOM, e.Request.AbsoluteURL(""), roaster); ok {
				products = append(products, p)
			}
		})
	}

	// Follow collection pagination only.
	collector.OnHTML(`a[href*="/collections/"], a.pagination__item`, func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link != "" && strings.HasPrefix(link, roaster.BaseURL) {
			_ = e.Request.Visit(link)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if fetchErr != nil {
			return
		}
		if r != nil && r.StatusCode != 0 {
			fetchErr = classifyStatus(r.StatusCode, r.Request.URL.String())
			return
		}
		fetchErr = domain.Transientf("scrape %s: %v", roaster.BaseURL, err)
	})

	startURL := strings.TrimRight(roaster.BaseURL, "/") + "/collections/all"
	if visitErr := collector.Visit(startURL); visitErr != nil {
		return nil, domain.Transientf("visit %s: %v", startURL, visitErr)
	}
	collector.Wait()

	if fetchErr != nil && len(products) == 0 {
		return nil, fetchErr
	}
	if len(products) == 0 {
		return nil, domain.Permanentf("no product tiles found at %s", startURL)
	}

	return &Payload{
		Products:    products,
		Raw:         raw,
		ContentHash: cache.ComputeHash(raw),
		FetchedVia:  domain.StrategyScrape,
	}, nil
}

// tileToProduct extracts one product from a catalog tile selection.
func tileToProduct(sel *goquery.Selection, pageURL string, roaster domain.Roaster) (domain.Product, bool) {
	title := strings.TrimSpace(sel.Find("h2, h3, .product-title, .card__heading").First().Text())
	if title == "" {
		return domain.Product{}, false
	}

	href, _ := sel.Find("a").First().Attr("href")
	productURL := href
	if productURL != "" && !strings.HasPrefix(productURL, "http") {
		productURL = strings.TrimRight(roaster.BaseURL, "/") + productURL
	}
	if productURL == "" {
		productURL = pageURL
	}

	priceText := strings.TrimSpace(sel.Find(".price, .product-price, .money").First().Text())
	imageSrc, _ := sel.Find("img").First().Attr("src")

	return domain.Product{
		RoasterID:   roaster.ID,
		PlatformKey: fmt.Sprintf("scrape:%s", productURL),
		Title:       title,
		URL:         productURL,
		PriceCents:  scrapePriceCents(priceText),
		Currency:    "USD",
		Available:   !strings.Contains(strings.ToLower(sel.Text()), "sold out"),
		ImageURL:    imageSrc,
		FetchedVia:  domain.StrategyScrape,
	}, true
}

// scrapePriceCents pulls the first decimal number out of displayed price
// text like "$18.50" or "From $16.00 USD".
func scrapePriceCents(text string) int {
	var digits strings.Builder
	seenDot := false
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '.' && !seenDot && digits.Len() > 0:
			seenDot = true
			digits.WriteRune(r)
		case digits.Len() > 0:
			return parsePriceCents(digits.String())
		}
	}
	return parsePriceCents(digits.String())
}
