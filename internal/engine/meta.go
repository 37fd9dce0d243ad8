package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
)

// Version is the engine version stamped into new data directories.
const Version = "1.1.0"

// MetaFileName is the metadata file inside a data directory.
const MetaFileName = "meta.toml"

// Meta describes a data directory.
type Meta struct {
	EngineVersion string    `toml:"engine_version" json:"engine_version" yaml:"engine_version"`
	CreatedAt     time.Time `toml:"created_at" json:"created_at" yaml:"created_at"`
	InstanceID    string    `toml:"instance_id" json:"instance_id" yaml:"instance_id"`
}

// loadMeta reads the metadata of dir. A data directory written by a newer
// major version is refused. When write is set, missing metadata is created
// and an older version is bumped to Version.
func loadMeta(dir string, now time.Time, write bool) (Meta, error) {
	current := version.Must(version.NewVersion(Version))
	path := filepath.Join(dir, MetaFileName)

	var m Meta
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Meta{}, fmt.Errorf("read engine metadata: %w", err)
		}
		m = Meta{
			EngineVersion: Version,
			CreatedAt:     now.UTC().Truncate(time.Second),
			InstanceID:    uuid.NewString(),
		}
		if write {
			if err := saveMeta(path, m); err != nil {
				return Meta{}, err
			}
		}
		return m, nil
	}

	stored, err := version.NewVersion(m.EngineVersion)
	if err != nil {
		return Meta{}, fmt.Errorf("parse engine version %q: %w", m.EngineVersion, err)
	}
	if stored.Segments()[0] > current.Segments()[0] {
		return Meta{}, fmt.Errorf("%w: data is %s, engine is %s", ErrIncompatibleData, stored, current)
	}

	if write && stored.LessThan(current) {
		m.EngineVersion = Version
		if err := saveMeta(path, m); err != nil {
			return Meta{}, err
		}
	}
	return m, nil
}

func saveMeta(path string, m Meta) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode engine metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write engine metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace engine metadata: %w", err)
	}
	return nil
}
