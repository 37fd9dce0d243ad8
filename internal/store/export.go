package store

import (
	"context"
	"errors"

	"focusd/internal/engine"
	"focusd/internal/registry"
)

// DefaultBatchSize is the number of records written per transaction.
const DefaultBatchSize = 4096

// Source is the engine surface an export reads from.
type Source interface {
	Meta() engine.Meta
	Apps() []registry.App
	ReadByCursor(cursor uint64, limit int, dir engine.Direction) engine.Page
}

// ExportFrom copies src into the database in batches. It resumes after the
// cursor of the previous export of the same data directory unless full is
// set. The returned run sums every batch and carries the final cursor.
func (s *Store) ExportFrom(ctx context.Context, src Source, batchSize int, full bool) (ExportRun, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	instance := src.Meta().InstanceID

	var cursor uint64
	if !full {
		last, err := s.LastExport(ctx, instance)
		switch {
		case err == nil:
			cursor = last.Cursor
		case !errors.Is(err, ErrNoExport):
			return ExportRun{}, err
		}
	}

	apps := src.Apps()
	out := make([]App, len(apps))
	for i, a := range apps {
		out[i] = App{ID: uint32(a.ID), Path: a.Path}
	}

	total := ExportRun{InstanceID: instance, Cursor: cursor, Apps: len(out)}
	for first := true; ; first = false {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		page := src.ReadByCursor(cursor, batchSize, engine.Forward)
		if len(page.Records) == 0 && !first {
			break
		}

		batch := ExportBatch{InstanceID: instance, Cursor: page.Next}
		if first {
			batch.Apps = out
		}
		batch.Records = make([]Record, len(page.Records))
		for i, r := range page.Records {
			batch.Records[i] = Record{AppID: uint32(r.AppID), FocusAt: r.FocusAt, BlurAt: r.BlurAt}
		}

		run, err := s.Export(ctx, batch)
		if err != nil {
			return total, err
		}
		total.ID = run.ID
		total.ExportedAt = run.ExportedAt
		total.Inserted += run.Inserted
		total.Skipped += run.Skipped
		total.Cursor = page.Next
		cursor = page.Next

		if !page.More {
			break
		}
	}
	return total, nil
}
