// Package store exports focus data into a SQLite database for ad-hoc
// analysis with standard SQL tooling.
package store

import "time"

// App is one exported application.
type App struct {
	ID   uint32
	Path string
}

// Record is one exported focus record. Times are milliseconds since the
// Unix epoch.
type Record struct {
	AppID   uint32
	FocusAt int64
	BlurAt  int64
}

// ExportRun describes one completed export.
type ExportRun struct {
	ID         int64
	InstanceID string
	ExportedAt time.Time
	// Cursor is the record log position the export read up to.
	Cursor   uint64
	Apps     int
	Inserted int64
	Skipped  int64
}

// AppTotal is the focus time of one application in a range.
type AppTotal struct {
	AppID  uint32 `json:"app_id" yaml:"app_id"`
	Path   string `json:"path" yaml:"path"`
	Millis int64  `json:"millis" yaml:"millis"`
}

// DailyTotal is the focus time of one UTC day.
type DailyTotal struct {
	Day    int64 `json:"day" yaml:"day"`
	Millis int64 `json:"millis" yaml:"millis"`
}
