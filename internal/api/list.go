package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/fruitsalade/rootshare/internal/storage"
)

type sortOrder int

const (
	sortNone sortOrder = iota
	sortByName
)

// sortEntries puts directories first, then orders by name, case-insensitive.
func sortEntries(entries []storage.Entry, order sortOrder) {
	if order != sortByName {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDirectory != b.IsDirectory {
			return a.IsDirectory
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	})
}

func validatePattern(pattern string) error {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("invalid pattern %q", pattern)
	}
	return nil
}

// filterEntries keeps entries whose name matches pattern. An empty
// pattern keeps everything.
func filterEntries(entries []storage.Entry, pattern string) []storage.Entry {
	if pattern == "" {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if ok, _ := doublestar.Match(pattern, e.Name); ok {
			out = append(out, e)
		}
	}
	return out
}
