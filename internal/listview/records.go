package listview

import (
	"strconv"
	"strings"

	"github.com/t77yq/schedule-console/internal/model"
)

// indexByID returns the index of the first record with id, or -1
func indexByID(records []*model.Schedule, id int64) int {
	for i, r := range records {
		if r.ID != nil && *r.ID == id {
			return i
		}
	}
	return -1
}

// upsert overwrites the first record sharing saved's identifier, or appends.
// It reports whether a record was appended.
func upsert(records []*model.Schedule, saved *model.Schedule) ([]*model.Schedule, bool) {
	if saved.HasID() {
		if i := indexByID(records, *saved.ID); i >= 0 {
			records[i] = saved
			return records, false
		}
	}
	return append(records, saved), true
}

// removeByID drops every record with the same identifier as target. A target
// without an identifier matches nothing.
func removeByID(records []*model.Schedule, target *model.Schedule) ([]*model.Schedule, int) {
	kept := make([]*model.Schedule, 0, len(records))
	for _, r := range records {
		if r.SameID(target) {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// removeMembers drops every record that is one of members (pointer identity)
func removeMembers(records, members []*model.Schedule) ([]*model.Schedule, int) {
	set := make(map[*model.Schedule]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}

	kept := make([]*model.Schedule, 0, len(records))
	for _, r := range records {
		if _, ok := set[r]; ok {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// matchesFilter is the case-insensitive "contains" test used by the global filter
func matchesFilter(r *model.Schedule, text string) bool {
	if text == "" {
		return true
	}
	needle := strings.ToLower(text)
	fields := []string{r.Key(), r.Expression()}
	if r.ID != nil {
		fields = append(fields, strconv.FormatInt(*r.ID, 10))
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

func cloneRecords(records []*model.Schedule) []*model.Schedule {
	if records == nil {
		return nil
	}
	out := make([]*model.Schedule, len(records))
	copy(out, records)
	return out
}
