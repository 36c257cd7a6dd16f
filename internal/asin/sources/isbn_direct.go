package sources

import (
	"context"
	"net/http"
	"regexp"

	"github.com/antchfx/htmlquery"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

var dpPathRe = regexp.MustCompile(`/dp/(B[A-Z0-9]{9})`)

// isbnDirect resolves an ASIN by following Amazon's ISBN-to-ASIN redirect on
// the /dp/<isbn> path and scraping the ASIN out of the final URL.
type isbnDirect struct {
	client *http.Client
	log    *logger.Logger
}

func NewISBNDirect(log *logger.Logger) Source {
	if log == nil {
		log = logger.Get()
	}
	return &isbnDirect{client: newHTTPClient(), log: log.With("asin_isbn_direct")}
}

func (s *isbnDirect) Name() Name { return ISBNDirect }

func (s *isbnDirect) Lookup(ctx context.Context, q Query) (Result, error) {
	if q.ISBN == "" {
		return Result{}, nil
	}

	url := "https://www.amazon.com/dp/" + q.ISBN
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, nil
	}
	setCommonHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Str("isbn", q.ISBN).Err(err).Msg("isbn-direct request failed")
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errBadStatus(resp.StatusCode)
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if m := dpPathRe.FindStringSubmatch(finalURL); m != nil {
		return Result{ASIN: m[1]}, nil
	}

	// Amazon sometimes serves a 200 for an unresolved ISBN instead of
	// redirecting (interstitial/search page). Fall back to the page's own
	// canonical link, which still carries the ASIN when one exists.
	doc, err := htmlquery.Parse(resp.Body)
	if err != nil {
		return Result{}, nil
	}
	canonical := htmlquery.FindOne(doc, `//link[@rel="canonical"]/@href`)
	if canonical == nil {
		return Result{}, nil
	}
	if m := dpPathRe.FindStringSubmatch(htmlquery.InnerText(canonical)); m != nil {
		return Result{ASIN: m[1]}, nil
	}
	return Result{}, nil
}
