package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

// amazonSearch resolves an ASIN via Amazon's Kindle-store search results
// page, on whichever marketplace host the query specifies. The same
// adapter serves both the "standard" (amazon.com) and "localized" variants
// from §4.9 of the resolution strategy — only the host differs.
type amazonSearch struct {
	client *http.Client
	log    *logger.Logger
}

func NewAmazonSearch(log *logger.Logger) Source {
	if log == nil {
		log = logger.Get()
	}
	return &amazonSearch{client: newHTTPClient(), log: log.With("asin_amazon_search")}
}

func (s *amazonSearch) Name() Name { return AmazonSearch }

func (s *amazonSearch) Lookup(ctx context.Context, q Query) (Result, error) {
	if q.Title == "" {
		return Result{}, nil
	}

	marketplace := q.Marketplace
	if marketplace == "" {
		marketplace = "amazon.com"
	}

	query := strings.TrimSpace(q.Title + " " + q.Author)
	endpoint := fmt.Sprintf("https://www.%s/s?k=%s&i=digital-text", marketplace, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, nil
	}
	setCommonHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Str("marketplace", marketplace).Err(err).Msg("amazon-search request failed")
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errBadStatus(resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Result{}, nil
	}

	var found string
	doc.Find("[data-asin]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		asin, ok := sel.Attr("data-asin")
		if !ok || asin == "" {
			return true
		}
		if strings.HasPrefix(asin, "B") {
			found = asin
			return false
		}
		return true
	})

	if found == "" {
		return Result{}, nil
	}
	return Result{ASIN: found}, nil
}
