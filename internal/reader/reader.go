// Package reader copies the data blocks of authenticated sectors into a raw
// tag image. A block that cannot be read leaves a flagged gap in the image;
// deciding whether the remaining data is enough is the decoder's job.
package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dyluth/spoolscan/internal/auth"
	"github.com/dyluth/spoolscan/internal/mifare"
)

// BlockSource is the subset of the hardware session the reader needs.
type BlockSource interface {
	Authenticate(ctx context.Context, sector int, key mifare.Key) (bool, error)
	ReadBlock(ctx context.Context, block int) ([]byte, error)
}

// Stats summarises one read pass.
type Stats struct {
	SectorsRead  int
	BlocksRead   int
	BlocksFailed int
	Reauths      int
}

// Reader reads sectors into an image.
type Reader struct {
	logger *slog.Logger
}

// New creates a reader. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger.With("component", "reader")}
}

// Read copies every data block of each authenticated sector in outcome.
// MIFARE Classic only serves blocks of the sector most recently
// authenticated, so a sector other than outcome.LastAuthenticated is
// re-authenticated with the key that succeeded during the auth pass. A
// failed re-authentication leaves all of that sector's blocks missing.
// Only context cancellation aborts the pass.
func (r *Reader) Read(ctx context.Context, src BlockSource, outcome auth.Outcome) (*mifare.Image, Stats, error) {
	img := mifare.NewImage()
	var stats Stats
	current := outcome.LastAuthenticated

	for _, sector := range outcome.Sectors {
		if !sector.Authenticated {
			continue
		}
		if err := ctx.Err(); err != nil {
			return img, stats, err
		}

		if sector.Sector != current {
			stats.Reauths++
			ok, err := src.Authenticate(ctx, sector.Sector, sector.Key)
			if err != nil && ctx.Err() != nil {
				return img, stats, ctx.Err()
			}
			if err != nil || !ok {
				r.logger.Debug("re-authentication failed", "sector", sector.Sector, "error", err)
				current = -1
				stats.BlocksFailed += mifare.DataBlocksPerSector
				continue
			}
			current = sector.Sector
		}

		first := mifare.SectorFirstBlock(sector.Sector)
		for b := first; b < first+mifare.DataBlocksPerSector; b++ {
			if err := r.readBlock(ctx, src, img, b); err != nil {
				if ctx.Err() != nil {
					return img, stats, ctx.Err()
				}
				r.logger.Debug("block read failed", "block", b, "error", err)
				stats.BlocksFailed++
				continue
			}
			stats.BlocksRead++
		}
		stats.SectorsRead++
	}

	return img, stats, nil
}

func (r *Reader) readBlock(ctx context.Context, src BlockSource, img *mifare.Image, block int) error {
	data, err := src.ReadBlock(ctx, block)
	if err != nil {
		img.MarkMissing(block)
		return err
	}
	if len(data) < mifare.BlockSize {
		img.MarkMissing(block)
		return fmt.Errorf("short read of block %d: %d bytes", block, len(data))
	}
	img.Set(block, data[:mifare.BlockSize])
	return nil
}
