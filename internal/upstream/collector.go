package upstream

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edudata-io/sis-sync/internal/config"
	"github.com/edudata-io/sis-sync/internal/models"
)

// PageFunc fetches one page of records at the given offset.
type PageFunc func(ctx context.Context, offset, limit int) ([]models.RawRecord, error)

// RangeFunc fetches all records within one bounded date range.
type RangeFunc func(ctx context.Context, from, to time.Time) ([]models.RawRecord, error)

// DateRange is one chunk of a date-bounded collection.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Collector drives offset pagination and date-range chunking against the
// upstream list endpoints, accumulating results in memory.
type Collector struct {
	pageSize  int
	pageDelay time.Duration
	logger    *logrus.Logger
}

// NewCollector creates a new collector
func NewCollector(cfg config.UpstreamConfig, logger *logrus.Logger) *Collector {
	return &Collector{
		pageSize:  cfg.PageSize,
		pageDelay: cfg.PageDelay,
		logger:    logger,
	}
}

// Collect pages through fetch until a page comes back short or empty. The
// upstream-reported total is never consulted. A small delay separates page
// requests to stay under upstream rate limits.
func (c *Collector) Collect(ctx context.Context, fetch PageFunc) ([]models.RawRecord, error) {
	var all []models.RawRecord
	offset := 0

	for {
		page, err := fetch(ctx, offset, c.pageSize)
		if err != nil {
			return nil, err
		}

		all = append(all, page...)

		if len(page) < c.pageSize {
			break
		}
		offset += c.pageSize

		c.logger.WithFields(logrus.Fields{
			"offset":  offset,
			"records": len(all),
		}).Debug("Fetched full page, continuing")

		if c.pageDelay > 0 {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return all, nil
}

// CollectRange splits [start, end] into calendar-month-aligned chunks and
// collects each chunk in chronological order into one result set. Used for
// endpoints that reject date spans longer than maxSpanDays.
func (c *Collector) CollectRange(ctx context.Context, start, end time.Time, maxSpanDays int, fetch RangeFunc) ([]models.RawRecord, error) {
	var all []models.RawRecord

	for _, chunk := range MonthChunks(start, end, maxSpanDays) {
		records, err := fetch(ctx, chunk.From, chunk.To)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)

		if c.pageDelay > 0 {
			select {
			case <-time.After(c.pageDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return all, nil
}

// MonthChunks splits [start, end] into contiguous, non-overlapping chunks
// aligned to calendar month boundaries. The first chunk starts at start, the
// last chunk ends exactly at end, and no chunk spans more than maxSpanDays.
// Inputs are truncated to day granularity; chunk arithmetic works on whole
// days.
func MonthChunks(start, end time.Time, maxSpanDays int) []DateRange {
	start = truncateToDay(start)
	end = truncateToDay(end)
	if end.Before(start) {
		return nil
	}

	var chunks []DateRange
	cur := start
	for !cur.After(end) {
		chunkEnd := endOfMonth(cur)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		// A calendar month fits in 31 days; guard smaller caps anyway.
		if maxSpanDays > 0 {
			capEnd := cur.AddDate(0, 0, maxSpanDays-1)
			if chunkEnd.After(capEnd) {
				chunkEnd = capEnd
			}
		}
		chunks = append(chunks, DateRange{From: cur, To: chunkEnd})
		cur = chunkEnd.AddDate(0, 0, 1)
	}

	return chunks
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}
