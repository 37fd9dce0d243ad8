// Package rules rewrites application paths before they reach the tracking
// pipeline. Exclude rules drop a path, include rules override excludes, and
// merge rules map a path onto another so several executables are counted as
// one application. All rules match by path prefix; the longest match wins.
package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FileName is the default rules file name inside the config directory.
const FileName = "rules.json"

const schemaURL = "https://focusd.local/schema/rules.schema.json"

//go:embed schema.json
var schemaJSON []byte

// ErrInvalidRules is returned when a rules document fails schema validation.
var ErrInvalidRules = errors.New("rules: invalid rules document")

// PathRule selects every path starting with Path.
type PathRule struct {
	Path string `json:"path"`
}

// MergeRule counts every path starting with Path as ToPath.
type MergeRule struct {
	Path   string `json:"path"`
	ToPath string `json:"toPath"`
}

// Rules is the rules.json document.
type Rules struct {
	Exclude []PathRule  `json:"exclude"`
	Include []PathRule  `json:"include"`
	Merge   []MergeRule `json:"merge"`
}

// Default returns the rules used when no rules file exists: short-lived
// system helpers and anything run from a temporary directory are ignored.
func Default() *Rules {
	return &Rules{
		Exclude: []PathRule{
			{Path: "/usr/libexec"},
			{Path: "/tmp"},
			{Path: "~/.cache"},
		},
		Include: []PathRule{},
		Merge:   []MergeRule{},
	}
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("rules: add schema resource: %v", err))
	}
	return compiler.MustCompile(schemaURL)
}

// Parse validates data against the rules schema and decodes it.
func Parse(data []byte) (*Rules, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	var r Rules
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return &r, nil
}

// Load reads the rules file at path. A missing file yields Default.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Parse(data)
}

// Save writes r to path as indented JSON. Absent lists are written as
// empty arrays.
func Save(r *Rules, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}
	out := Rules{Exclude: r.Exclude, Include: r.Include, Merge: r.Merge}
	if out.Exclude == nil {
		out.Exclude = []PathRule{}
	}
	if out.Include == nil {
		out.Include = []PathRule{}
	}
	if out.Merge == nil {
		out.Merge = []MergeRule{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

// Matcher applies compiled rules. It is immutable and safe for concurrent
// use.
type Matcher struct {
	exclude prefixSet
	include prefixSet
	merge   prefixSet
}

// Compile expands and indexes r. home replaces a leading "~"; an empty
// home leaves such rules untouched.
func Compile(r *Rules, home string) *Matcher {
	m := &Matcher{}
	if r == nil {
		return m
	}
	for _, p := range r.Exclude {
		m.exclude.add(expandHome(p.Path, home), "")
	}
	for _, p := range r.Include {
		m.include.add(expandHome(p.Path, home), "")
	}
	for _, p := range r.Merge {
		m.merge.add(expandHome(p.Path, home), expandHome(p.ToPath, home))
	}
	m.exclude.sort()
	m.include.sort()
	m.merge.sort()
	return m
}

// CompileDefault compiles r against the current user's home directory.
func CompileDefault(r *Rules) *Matcher {
	home, _ := os.UserHomeDir()
	return Compile(r, home)
}

// Excluded reports whether path is dropped: it matches an exclude rule and
// no include rule.
func (m *Matcher) Excluded(path string) bool {
	if _, ok := m.exclude.longest(path); !ok {
		return false
	}
	_, included := m.include.longest(path)
	return !included
}

// Filter returns the path to track for path: "" when it is excluded,
// the target of the longest matching merge rule, or path itself.
func (m *Matcher) Filter(path string) string {
	if path == "" || m.Excluded(path) {
		return ""
	}
	if to, ok := m.merge.longest(path); ok {
		return to
	}
	return path
}

func expandHome(path, home string) string {
	if home == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	return home + path[1:]
}

type prefixEntry struct {
	prefix string
	value  string
}

// prefixSet is ordered longest prefix first so the first hit is the
// longest match.
type prefixSet []prefixEntry

func (s *prefixSet) add(prefix, value string) {
	if prefix == "" {
		return
	}
	*s = append(*s, prefixEntry{prefix: prefix, value: value})
}

func (s prefixSet) sort() {
	sort.SliceStable(s, func(i, j int) bool { return len(s[i].prefix) > len(s[j].prefix) })
}

func (s prefixSet) longest(path string) (string, bool) {
	for _, e := range s {
		if strings.HasPrefix(path, e.prefix) {
			return e.value, true
		}
	}
	return "", false
}
