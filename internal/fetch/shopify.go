package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// Shopify storefront API constants.
const (
	shopifyProductsPath = "/products.json"
	shopifyPageSize     = 250
	shopifyMaxPages     = 20
)

// defaultHTTPTimeout bounds one request when the caller's context has
// no earlier deadline.
const defaultHTTPTimeout = 30 * time.Second

// ShopifyStrategy reads the public Shopify storefront products.json
// endpoint. This is the cheapest tier: one JSON request per page, no
// rendering.
type ShopifyStrategy struct {
	client *http.Client
}

// NewShopifyStrategy creates the Shopify strategy. A nil client uses a
// default with a conservative timeout.
func NewShopifyStrategy(client *http.Client) *ShopifyStrategy {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &ShopifyStrategy{client: client}
}

// Name implements Strategy.
func (s *ShopifyStrategy) Name() domain.Strategy {
	return domain.StrategyShopify
}

// shopifyProduct mirrors the subset of the storefront payload we keep.
type shopifyProduct struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Handle   string `json:"handle"`
	BodyHTML string `json:"body_html"`
	Images   []struct {
		Src string `json:"src"`
	} `json:"images"`
	Variants []struct {
		Price     string `json:"price"`
		Available bool   `json:"available"`
	} `json:"variants"`
}

// shopifyPage is one page of the products.json response.
type shopifyPage struct {
	Products []shopifyProduct `json:"products"`
}

// Fetch implements Strategy. A price_only job reads the same endpoint;
// the distinction matters downstream, where only price and availability
// fields are applied.
func (s *ShopifyStrategy) Fetch(
	ctx context.Context,
	roaster domain.Roaster,
	_ domain.JobType,
) (*Payload, error) {
	if roaster.BaseURL == "" {
		return nil, domain.Permanentf("roaster %s has no base URL", roaster.ID)
	}

	var products []domain.Product
	var raw []byte

	for page := 1; page <= shopifyMaxPages; page++ {
		url := fmt.Sprintf("%s%s?limit=%d&page=%d",
			strings.TrimRight(roaster.BaseURL, "/"), shopifyProductsPath, shopifyPageSize, page)

		body, err := s.getJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		raw = append(raw, body...)

		var parsed shopifyPage
		if unmarshalErr := json.Unmarshal(body, &parsed); unmarshalErr != nil {
			// A storefront that serves HTML here is not a Shopify shop.
			return nil, domain.Permanentf("parse products.json from %s: %v", url, unmarshalErr)
		}

		for i := range parsed.Products {
			products = append(products, shopifyToDomain(&parsed.Products[i], roaster))
		}

		if len(parsed.Products) < shopifyPageSize {
			break
		}
	}

	return &Payload{
		Products:    products,
		Raw:         raw,
		ContentHash: cache.ComputeHash(raw),
		FetchedVia:  domain.StrategyShopify,
	}, nil
}

// getJSON performs one GET and classifies HTTP-level failures.
func (s *ShopifyStrategy) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, domain.Permanentf("build request for %s: %v", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, domain.Transientf("fetch %s: %v", url, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transientf("read body from %s: %v", url, err)
	}
	return body, nil
}

// classifyStatus maps HTTP status codes onto retry classifications:
// 2xx ok, 429 and 5xx transient, remaining 4xx permanent.
func classifyStatus(status int, url string) error {
	switch {
	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusTooManyRequests:
		return domain.Transientf("rate limited by %s", url)
	case status >= http.StatusInternalServerError:
		return domain.Transientf("server error %d from %s", status, url)
	default:
		return domain.Permanentf("status %d from %s", status, url)
	}
}

// shopifyToDomain converts a storefront product to the domain model.
// The first variant's price stands in for the product.
func shopifyToDomain(p *shopifyProduct, roaster domain.Roaster) domain.Product {
	product := domain.Product{
		RoasterID:   roaster.ID,
		PlatformKey: "shopify:" + strconv.FormatInt(p.ID, 10),
		Title:       p.Title,
		URL:         strings.TrimRight(roaster.BaseURL, "/") + "/products/" + p.Handle,
		Currency:    "USD",
		Description: p.BodyHTML,
		FetchedVia:  domain.StrategyShopify,
	}

	if len(p.Images) > 0 {
		product.ImageURL = p.Images[0].Src
	}
	if len(p.Variants) > 0 {
		product.PriceCents = parsePriceCents(p.Variants[0].Price)
		product.Available = p.Variants[0].Available
	}

	return product
}

// parsePriceCents converts a decimal price string to integer cents.
// Unparseable prices become zero rather than failing the whole page.
func parsePriceCents(price string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil {
		return 0
	}
	return int(f*100 + 0.5)
}
