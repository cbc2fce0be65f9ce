// Package devregistry resolves a device serial number to a host path,
// standing in for the real platform device enumeration step the spec
// explicitly puts out of scope. It mirrors dargueta-disko's disks
// package: an embedded CSV decoded once, on first use, with gocsv.
package devregistry

import (
	_ "embed"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"
)

// Entry is one row of the embedded demo registry.
type Entry struct {
	Serial string `csv:"serial"`
	Path   string `csv:"path"`
	Notes  string `csv:"notes"`
}

//go:embed demo-registry.csv
var rawCSV string

var (
	once     sync.Once
	bySerial map[string]Entry
)

func load() {
	bySerial = make(map[string]Entry)
	var rows []Entry
	if err := gocsv.UnmarshalString(rawCSV, &rows); err != nil {
		return
	}
	for _, row := range rows {
		bySerial[row.Serial] = row
	}
}

// Resolve maps serial to a host path using the embedded demo registry. If
// serial isn't a known demo entry, it's returned with surrounding
// whitespace trimmed, letting
// callers pass a literal path straight through without special-casing
// the "not a demo serial" branch.
func Resolve(serial string) string {
	once.Do(load)
	if entry, ok := bySerial[serial]; ok {
		return entry.Path
	}
	return strings.TrimSpace(serial)
}

// Lookup reports whether serial is a known demo registry entry.
func Lookup(serial string) (Entry, bool) {
	once.Do(load)
	entry, ok := bySerial[serial]
	return entry, ok
}
