// Package registry maintains the per-target version registry
// (versions.json) and latest pointer (latest.txt) in an object store.
package registry

import (
	"bytes"
	"encoding/json"
	"path"
	"sort"
	"time"
)

// Remote and scratch file names.
const (
	RegistryFile = "versions.json"
	LatestFile   = "latest.txt"
)

// RegistryKey returns the remote key of a target's registry.
func RegistryKey(target string) string {
	return path.Join("binaries", target, RegistryFile)
}

// LatestKey returns the remote key of a target's latest pointer.
func LatestKey(target string) string {
	return path.Join("binaries", target, LatestFile)
}

// Entry records one released version.
type Entry struct {
	Changesets  []string `json:"changesets"`
	ReleaseDate int64    `json:"release_date"`
}

// Registry maps versions to their entries.
type Registry map[string]Entry

// Parse decodes a registry document. A JSON null decodes to an empty registry.
func Parse(data []byte) (Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = Registry{}
	}
	return reg, nil
}

// Merge inserts version released at now unless it is already present.
// Existing entries are never modified. It reports whether an entry was added.
func (r Registry) Merge(version string, now time.Time) bool {
	if _, ok := r[version]; ok {
		return false
	}
	r[version] = Entry{Changesets: []string{}, ReleaseDate: now.Unix()}
	return true
}

// Versions returns the registered versions in lexicographic order.
func (r Registry) Versions() []string {
	out := make([]string, 0, len(r))
	for v := range r {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Encode renders the registry as indented JSON with sorted keys and a
// trailing newline.
func (r Registry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
