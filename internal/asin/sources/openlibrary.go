package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ebookops/calibre-pipeline/internal/logger"
)

type openLibrary struct {
	client *http.Client
	log    *logger.Logger
}

func NewOpenLibrary(log *logger.Logger) Source {
	if log == nil {
		log = logger.Get()
	}
	return &openLibrary{client: newHTTPClient(), log: log.With("asin_openlibrary")}
}

func (s *openLibrary) Name() Name { return OpenLibrary }

type openLibraryRecord struct {
	Identifiers struct {
		Amazon []string `json:"amazon"`
	} `json:"identifiers"`
}

func (s *openLibrary) Lookup(ctx context.Context, q Query) (Result, error) {
	if q.ISBN == "" {
		return Result{}, nil
	}

	key := "ISBN:" + q.ISBN
	endpoint := fmt.Sprintf("https://openlibrary.org/api/books?bibkeys=%s&format=json&jscmd=data", url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, nil
	}
	setCommonHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Debug().Str("isbn", q.ISBN).Err(err).Msg("openlibrary request failed")
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, errBadStatus(resp.StatusCode)
	}

	var parsed map[string]openLibraryRecord
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, nil
	}

	record, ok := parsed[key]
	if !ok {
		return Result{}, nil
	}
	for _, candidate := range record.Identifiers.Amazon {
		if validASINShape(candidate) {
			return Result{ASIN: candidate}, nil
		}
	}
	return Result{}, nil
}
