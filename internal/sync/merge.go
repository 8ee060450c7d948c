package sync

import (
	"time"

	"github.com/srikhai/wastetrack/internal/schema"
)

// Merge combines remote and local records by ID with last-write-wins.
//
// The merged set is seeded with remote records in their order. A local record
// replaces its remote counterpart only when its UpdatedAt is strictly later;
// a missing or unparseable UpdatedAt counts as the zero time, so ties and
// undated local edits keep the remote copy. Local records absent remotely
// are appended in local order.
//
// deltas holds the local records that won, in merged order. These are the
// records to push.
func Merge(remoteRecs, localRecs []schema.WasteRecord) (merged, deltas []schema.WasteRecord) {
	index := make(map[string]int, len(remoteRecs)+len(localRecs))
	merged = make([]schema.WasteRecord, 0, len(remoteRecs)+len(localRecs))

	for _, r := range remoteRecs {
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		index[r.ID] = len(merged)
		merged = append(merged, r)
	}

	won := make(map[string]bool)
	for _, l := range localRecs {
		i, ok := index[l.ID]
		if !ok {
			index[l.ID] = len(merged)
			merged = append(merged, l)
			won[l.ID] = true
			continue
		}
		if updatedOrZero(l).After(updatedOrZero(merged[i])) {
			merged[i] = l
			won[l.ID] = true
		}
	}

	for _, r := range merged {
		if won[r.ID] {
			deltas = append(deltas, r)
		}
	}
	return merged, deltas
}

func updatedOrZero(r schema.WasteRecord) time.Time {
	t, _ := r.Updated()
	return t
}
