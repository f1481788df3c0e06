// Package watch follows published scan results: streaming them as they are
// published, or waiting for a particular tag to be scanned.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/spoolscan/internal/filter"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per result
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// pollInterval is how often PollForTag reads the tag cache.
const pollInterval = 200 * time.Millisecond

// Source delivers published results. *publish.Subscription implements it.
type Source interface {
	Events() <-chan spooltag.ScanResult
	Errors() <-chan error
}

// LatestGetter reads the cached result for a tag. *publish.Publisher
// implements it.
type LatestGetter interface {
	Latest(ctx context.Context, uid string) (*spooltag.ScanResult, error)
}

// Stream writes every result from src that matches c until ctx is done or
// the source closes. Subscription errors are reported to errw and skipped.
func Stream(ctx context.Context, src Source, c *filter.Criteria, format OutputFormat, w, errw io.Writer) error {
	events, errs := src.Events(), src.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(errw, "⚠️  %v\n", err)

		case res, ok := <-events:
			if !ok {
				return nil
			}
			if c != nil && !c.Matches(&res) {
				continue
			}
			if err := WriteEvent(w, res, format); err != nil {
				return err
			}
		}
	}
}

// WriteEvent writes one result in the given format.
func WriteEvent(w io.Writer, res spooltag.ScanResult, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("failed to marshal scan result: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}
	_, err := fmt.Fprintln(w, FormatEvent(res))
	return err
}

// FormatEvent renders a result as a single line with a timestamp and an
// outcome marker.
func FormatEvent(res spooltag.ScanResult) string {
	ts := res.StartedAt.Local().Format("15:04:05")
	uid := res.TagUID
	if uid == "" {
		uid = "-"
	}

	switch res.Kind {
	case spooltag.ResultSuccess:
		r := res.Record
		name := r.MaterialType
		if r.MaterialName != "" {
			name = r.MaterialName
		}
		return fmt.Sprintf("[%s] ✅ %s %s: %s %s %s", ts, uid, r.Format, r.Manufacturer, name, r.PrimaryColor())
	case spooltag.ResultNoTag, spooltag.ResultInvalidTag:
		return fmt.Sprintf("[%s] ⚪ %s %s", ts, uid, res.Kind)
	case spooltag.ResultAuthenticationFailed:
		return fmt.Sprintf("[%s] 🔒 %s %s", ts, uid, res.Kind)
	default:
		return fmt.Sprintf("[%s] ❌ %s %s: %s", ts, uid, res.Kind, res.Message)
	}
}

// PollForTag polls the tag cache until the latest result for uid matches c.
// Returns an error if timeout occurs.
func PollForTag(ctx context.Context, store LatestGetter, uid string, c *filter.Criteria, timeout time.Duration) (*spooltag.ScanResult, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		res, err := store.Latest(ctx, uid)
		switch {
		case err == nil && (c == nil || c.Matches(res)):
			return res, nil
		case err != nil && !publish.IsNotFound(err):
			return nil, fmt.Errorf("failed to query tag result: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for tag %s after %v", uid, timeout)
		case <-ticker.C:
		}
	}
}
