package main

import (
	"context"

	"focusd/internal/engine"
	"focusd/internal/record"
	"focusd/internal/registry"
)

// backend is the read surface shared by the daemon client and a read-only
// engine.
type backend interface {
	Apps(ctx context.Context) ([]registry.App, error)
	ReadRange(ctx context.Context, start, end int64) ([]record.FocusRecord, error)
	Days(ctx context.Context) ([]engine.DayEntry, error)
	StartTimestamp(ctx context.Context) (int64, error)
	Close() error
}

type localBackend struct {
	engine *engine.Engine
}

func (b *localBackend) Apps(ctx context.Context) ([]registry.App, error) {
	return b.engine.Apps(), nil
}

func (b *localBackend) ReadRange(ctx context.Context, start, end int64) ([]record.FocusRecord, error) {
	return b.engine.ReadByTimestamp(start, end), nil
}

func (b *localBackend) Days(ctx context.Context) ([]engine.DayEntry, error) {
	return b.engine.Days(), nil
}

func (b *localBackend) StartTimestamp(ctx context.Context) (int64, error) {
	return b.engine.StartTimestamp(), nil
}

func (b *localBackend) Close() error {
	return b.engine.Close()
}

// appNames maps app ids to paths for display.
func appNames(ctx context.Context, b backend) (map[record.AppID]string, error) {
	apps, err := b.Apps(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[record.AppID]string, len(apps))
	for _, a := range apps {
		names[a.ID] = a.Path
	}
	return names, nil
}
