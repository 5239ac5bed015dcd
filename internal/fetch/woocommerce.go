package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonesrussell/beancrawl/internal/cache"
	"github.com/jonesrussell/beancrawl/internal/domain"
)

// WooCommerce Store API constants.
const (
	wooProductsPath = "/wp-json/wc/store/v1/products"
	wooPageSize     = 100
	wooMaxPages     = 50
)

// WooStrategy reads the unauthenticated WooCommerce Store API. Slightly
// heavier than Shopify per page but still structured JSON.
type WooStrategy struct {
	client *http.Client
}

// NewWooStrategy creates the WooCommerce strategy.
func NewWooStrategy(client *http.Client) *WooStrategy {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &WooStrategy{client: client}
}

// Name implements Strategy.
func (s *WooStrategy) Name() domain.Strategy {
	return domain.StrategyWooCommerce
}

// wooProduct mirrors the subset of the Store API payload we keep.
type wooProduct struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Permalink   string `json:"permalink"`
	Description string `json:"description"`
	IsInStock   bool   `json:"is_in_stock"`
	Images      []struct {
		Src string `json:"src"`
	} `json:"images"`
	Prices struct {
		Price        string `json:"price"`
		CurrencyCode string `json:"currency_code"`
		// Store API prices are in minor units already.
		CurrencyMinorUnit int `json:"currency_minor_unit"`
	} `json:"prices"`
}

// Fetch implements Strategy.
func (s *WooStrategy) Fetch(
	ctx context.Context,
	roaster domain.Roaster,
	_ domain.JobType,
) (*Payload, error) {
	if roaster.BaseURL == "" {
		return nil, domain.Permanentf("roaster %s has no base URL", roaster.ID)
	}

	var products []domain.Product
	var raw []byte

	for page := 1; page <= wooMaxPages; page++ {
		url := fmt.Sprintf("%s%s?per_page=%d&page=%d",
			strings.TrimRight(roaster.BaseURL, "/"), wooProductsPath, wooPageSize, page)

		body, err := s.getJSON(ctx, url)
		if err != nil {
			return nil, err
		}
		raw = append(raw, body...)

		var parsed []wooProduct
		if unmarshalErr := json.Unmarshal(body, &parsed); unmarshalErr != nil {
			return nil, domain.Permanentf("parse store API response from %s: %v", url, unmarshalErr)
		}

		for i := range parsed {
			products = append(products, wooToDomain(&parsed[i], roaster))
		}

		if len(parsed) < wooPageSize {
			break
		}
	}

	return &Payload{
		Products:    products,
		Raw:         raw,
		ContentHash: cache.ComputeHash(raw),
		FetchedVia:  domain.StrategyWooCommerce,
	}, nil
}

// getJSON performs one GET and classifies HTTP-level failures.
func (s *WooStrategy) getJSON(ctx context.Context, url string) ([]byte, error) {
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

	if statusErr := classifyStatus(resp.StatusCode, url); statusErr != nil {
		return nil, statusErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transientf("read body from %s: %v", url, err)
	}
	return body, nil
}

// wooToDomain converts a Store API product to the domain model.
func wooToDomain(p *wooProduct, roaster domain.Roaster) domain.Product {
	product := domain.Product{
		RoasterID:   roaster.ID,
		PlatformKey: "woocommerce:" + strconv.FormatInt(p.ID, 10),
		Title:       p.Name,
		URL:         p.Permalink,
		Currency:    p.Prices.CurrencyCode,
		Available:   p.IsInStock,
		Description: p.Description,
		FetchedVia:  domain.StrategyWooCommerce,
	}

	if len(p.Images) > 0 {
		product.ImageURL = p.Images[0].Src
	}
	if cents, err := strconv.Atoi(p.Prices.Price); err == nil {
		product.PriceCents = cents
	}

	return product
}
