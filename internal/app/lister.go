package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"garminsync/internal/config"
	"garminsync/internal/platform"
	"garminsync/internal/worker"

	"go.uber.org/zap"
)

// Lister selects the newest origin activities for consideration
type Lister struct {
	client platform.Client
	region config.Region
	logger *zap.Logger
}

// Keys tried when the region does not name a sort key. The platform has
// shipped several casings of the start-time field over the years.
var sortKeyFallbacks = []string{"startTimeGmt", "startTimeGMT", "startTimeLocal", "startTimeUtc"}

var listTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// List fetches the listing, sorts it newest first, and truncates to limit
func (l *Lister) List(ctx context.Context, limit int) ([]worker.Task, error) {
	entries, err := l.client.ListActivities(ctx, limit)
	if err != nil {
		return nil, err
	}

	tasks := make([]worker.Task, 0, len(entries))
	for _, entry := range entries {
		id := worker.NormalizeID(stringifyID(entry[l.region.IDField]))
		if id == "" {
			l.logger.Debug("skipping listing entry without id", zap.String("id_field", l.region.IDField))
			continue
		}
		tasks = append(tasks, worker.Task{
			ID:     id,
			Meta:   entry,
			Source: worker.SourceRemote,
		})
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return newerThan(
			sortValue(tasks[i].Meta, l.region.SortKey),
			sortValue(tasks[j].Meta, l.region.SortKey),
		)
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	l.logger.Debug("listing selected",
		zap.Int("entries", len(entries)),
		zap.Int("selected", len(tasks)),
	)
	return tasks, nil
}

func sortValue(meta map[string]any, sortKey string) string {
	keys := sortKeyFallbacks
	if sortKey != "" {
		keys = []string{sortKey}
	}
	for _, k := range keys {
		if v, ok := meta[k]; ok && v != nil {
			return stringifyID(v)
		}
	}
	return ""
}

// newerThan compares two sort values as timestamps when both parse, falling
// back to lexical order.
func newerThan(a, b string) bool {
	ta, okA := parseListTime(a)
	tb, okB := parseListTime(b)
	if okA && okB {
		return ta.After(tb)
	}
	return a > b
}

func parseListTime(s string) (time.Time, bool) {
	for _, layout := range listTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// stringifyID renders a listing value as a stable string. JSON numbers decode
// as float64, so integral ids must not pick up an exponent or fraction.
func stringifyID(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}
