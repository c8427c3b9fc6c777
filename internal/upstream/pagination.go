package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/engels74/comradarr-sub004/internal/apperr"
)

const defaultPageSize = 1000

// WantedRecord is one row of a wanted-missing or wanted-cutoff page.
type WantedRecord struct {
	ID       int64  `json:"id"`
	SeriesID int64  `json:"seriesId,omitempty"`
	Title    string `json:"title"`
}

// wantedPage is the raw wire envelope for a paginated wanted-* endpoint.
type wantedPage struct {
	Records    []json.RawMessage `json:"records"`
	TotalCount int               `json:"totalRecords"`
}

// ParsePage decodes one page's raw records leniently: a malformed record is
// skipped and counted rather than aborting the page (spec §4.3, §8
// property 4 — "one bad record cannot stop sync").
func ParsePage(raw []json.RawMessage, logger *slog.Logger) (records []WantedRecord, skipped int) {
	if logger == nil {
		logger = slog.Default()
	}
	for i, r := range raw {
		var rec WantedRecord
		if err := json.Unmarshal(r, &rec); err != nil {
			logger.Warn("skipping malformed wanted record", "index", i, "error", err)
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// PageIterator lazily walks a paginated wanted-missing/wanted-cutoff
// endpoint, one page at a time, bounded to sequential (concurrency=1)
// fetches per spec §4.3.
type PageIterator struct {
	client   *Client
	path     string
	pageSize int
	logger   *slog.Logger

	page      int
	done      bool
	totalSeen int
}

// NewWantedMissingIterator walks GET /wanted/missing.
func (c *Client) NewWantedMissingIterator(logger *slog.Logger) *PageIterator {
	return newPageIterator(c, "/wanted/missing", logger)
}

// NewWantedCutoffIterator walks GET /wanted/cutoff.
func (c *Client) NewWantedCutoffIterator(logger *slog.Logger) *PageIterator {
	return newPageIterator(c, "/wanted/cutoff", logger)
}

func newPageIterator(c *Client, path string, logger *slog.Logger) *PageIterator {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageIterator{client: c, path: path, pageSize: defaultPageSize, logger: logger, page: 1}
}

// Next fetches and parses the next page. Returns (nil, 0, false, nil) once
// exhausted. skipped is the count of malformed records dropped from this
// page.
func (it *PageIterator) Next(ctx context.Context) (records []WantedRecord, skipped int, more bool, err error) {
	if it.done {
		return nil, 0, false, nil
	}

	q := url.Values{
		"page":     {strconv.Itoa(it.page)},
		"pageSize": {strconv.Itoa(it.pageSize)},
	}
	body, err := it.client.do(ctx, "GET", it.path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, false, err
	}

	var raw wantedPage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, 0, false, apperr.Wrap(apperr.KindValidation, fmt.Sprintf("decode %s page %d", it.path, it.page), err)
	}

	records, skipped = ParsePage(raw.Records, it.logger)
	it.totalSeen += len(raw.Records)
	it.page++

	if it.totalSeen >= raw.TotalCount || len(raw.Records) == 0 {
		it.done = true
		return records, skipped, false, nil
	}
	return records, skipped, true, nil
}
