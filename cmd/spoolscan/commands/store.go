package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/spoolscan/internal/config"
	"github.com/dyluth/spoolscan/internal/filter"
	"github.com/dyluth/spoolscan/internal/printer"
	"github.com/dyluth/spoolscan/internal/publish"
	"github.com/dyluth/spoolscan/internal/timespec"
	"github.com/dyluth/spoolscan/pkg/spooltag"
)

// filterFlags holds the result filters shared by watch and tags.
type filterFlags struct {
	kind     string
	format   string
	material string
	tag      string
	since    string
	until    string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "kind", "", "Only results of this kind (success, no_tag, invalid_tag, read_error, authentication_failed, parsing_error)")
	cmd.Flags().StringVar(&f.format, "format", "", "Only records of this tag format")
	cmd.Flags().StringVar(&f.material, "material", "", "Glob over material type or name, case-insensitive")
	cmd.Flags().StringVar(&f.tag, "tag", "", "Only results for this tag UID (hex)")
	cmd.Flags().StringVar(&f.since, "since", "", "Only results started after this time (duration ago or RFC3339)")
	cmd.Flags().StringVar(&f.until, "until", "", "Only results started before this time (duration ago or RFC3339)")
}

func (f *filterFlags) criteria() (*filter.Criteria, error) {
	since, until, err := timespec.ParseRange(f.since, f.until, time.Now())
	if err != nil {
		return nil, printer.Error(
			"invalid time range",
			err.Error(),
			[]string{"Use a duration such as 10m or an RFC3339 time such as 2026-03-18T09:00:00Z"},
		)
	}

	c := &filter.Criteria{
		Since:        since,
		Until:        until,
		Kind:         spooltag.ResultKind(f.kind),
		Format:       spooltag.TagFormat(f.format),
		MaterialGlob: f.material,
		TagUID:       f.tag,
	}
	if c.Kind != "" {
		if err := c.Kind.Validate(); err != nil {
			return nil, printer.Error(
				"invalid result kind",
				err.Error(),
				[]string{"Valid kinds: success, no_tag, invalid_tag, read_error, authentication_failed, parsing_error"},
			)
		}
	}
	if c.Format != "" {
		if err := c.Format.Validate(); err != nil {
			return nil, printer.Error(
				"invalid format",
				err.Error(),
				[]string{"Valid formats: bambu, creality, opentag, unknown"},
			)
		}
	}
	if c.TagUID != "" {
		if _, err := parseUID(c.TagUID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// connectStore opens the configured Redis instance and checks it answers.
// The caller closes the returned publisher.
func connectStore(ctx context.Context, cfg *config.SpoolscanConfig, cmdName string) (*publish.Publisher, error) {
	if cfg.Publish.RedisURL == "" {
		return nil, printer.Error(
			"publishing is not configured",
			fmt.Sprintf("%s reads results from Redis but publish.redis_url is empty.", cmdName),
			[]string{"Set publish.redis_url in spoolscan.yml", "Create a config with:\n  spoolscan init"},
		)
	}

	pub, err := publish.NewPublisherFromURL(cfg.Publish.RedisURL, cfg.Publish.Instance)
	if err != nil {
		return nil, printer.Error(
			"invalid publish configuration",
			err.Error(),
			[]string{"Check publish.redis_url in spoolscan.yml"},
		)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pub.Ping(pingCtx); err != nil {
		pub.Close()
		return nil, printer.ErrorWithContext(
			"redis not accessible",
			fmt.Sprintf("Could not connect to Redis: %v", err),
			map[string]string{"Redis": cfg.Publish.RedisURL},
			[]string{"Check the Redis server is running", "Check publish.redis_url in spoolscan.yml"},
		)
	}
	return pub, nil
}
