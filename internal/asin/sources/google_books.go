package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

type googleBooks struct {
	client *http.Client
	log    *logger.Logger
}

func NewGoogleBooks(log *logger.Logger) Source {
	if log == nil {
		log = logger.Get()
	}
	return &googleBooks{client: newHTTPClient(), log: log.With("asin_google_books")}
}

func (s *googleBooks) Name() Name { return GoogleBooks }

type googleBooksResponse struct {
	Items []struct {
		VolumeInfo struct {
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

func (s *googleBooks) Lookup(ctx context.Context, q Query) (Result, error) {
	var terms []string
	if q.ISBN != "" {
		terms = append(terms, "isbn:"+q.ISBN)
	}
	if q.Title != "" {
		terms = append(terms, "intitle:"+q.Title)
	}
	if q.Author != "" {
		terms = append(terms, "inauthor:"+q.Author)
	}
	if len(terms) == 0 {
		return Result{}, nil
	}

	endpoint := fmt.Sprintf("https://www.googleapis.com/books/v1/volumes?q=%s&maxResults=5",
		url.QueryEscape(strings.Join(terms, " ")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, nil
	}
	setCommonHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Err(err).Msg("google-books request failed")
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errBadStatus(resp.StatusCode)
	}

	var parsed googleBooksResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, nil
	}

	for _, item := range parsed.Items {
		for _, id := range item.VolumeInfo.IndustryIdentifiers {
			if id.Type == "OTHER" && validASINShape(id.Identifier) {
				return Result{ASIN: id.Identifier}, nil
			}
		}
	}
	return Result{}, nil
}

// validASINShape avoids importing the asin package from here (sources must
// stay free of a dependency back onto the resolver); it mirrors the same
// strict B-prefixed shape.
func validASINShape(s string) bool {
	if len(s) != 10 || s[0] != 'B' {
		return false
	}
	for i := 1; i < 10; i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
