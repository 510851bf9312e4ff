package scan

import (
	"sort"

	"github.com/kmsync/kmsync/pkg/checkpoint"
)

// Diff partitions the union of paths between prev and curr (both
// keyed the same way Scan keys its result) into Added, Modified,
// Deleted and Unchanged FileRecords. Unchanged entries carry the
// record from curr; their hash already matched prev's, so there's
// nothing new to materialize. Every slice is ordered lexicographically
// by path for byte-reproducible manifests.
type Result struct {
	Added     []*checkpoint.FileRecord
	Modified  []*checkpoint.FileRecord
	Deleted   []*checkpoint.FileRecord
	Unchanged []*checkpoint.FileRecord
}

func Diff(prev, curr map[string]*checkpoint.FileRecord) Result {
	var result Result
	for key, currRecord := range curr {
		prevRecord, existed := prev[key]
		switch {
		case !existed:
			result.Added = append(result.Added, currRecord)
		case prevRecord.Hash != currRecord.Hash:
			result.Modified = append(result.Modified, currRecord)
		default:
			result.Unchanged = append(result.Unchanged, currRecord)
		}
	}
	for key, prevRecord := range prev {
		if _, stillPresent := curr[key]; !stillPresent {
			result.Deleted = append(result.Deleted, prevRecord)
		}
	}

	sortByPath(result.Added)
	sortByPath(result.Modified)
	sortByPath(result.Deleted)
	sortByPath(result.Unchanged)
	return result
}

func sortByPath(records []*checkpoint.FileRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
}
