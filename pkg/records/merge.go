package records

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"
)

// NotesDelimiter separates the notes of merged records.
const NotesDelimiter = "\n---\n"

// MergeOptions controls Merge.
type MergeOptions struct {
	// RequireNonEmpty makes an empty input fail with ErrEmptyCollection.
	RequireNonEmpty bool
}

// GroupReport describes one group of duplicates folded into a single record.
type GroupReport struct {
	Key         string
	CanonicalID json.RawMessage
	DateSent    string
	Members     int
	FollowUps   int
}

// MergeReport summarizes a merge pass.
type MergeReport struct {
	Groups []GroupReport
	Input  int
	Output int
}

// Removed returns the number of records folded away.
func (r MergeReport) Removed() int {
	return r.Input - r.Output
}

// Merge collapses records sharing a case-insensitive identity key into one
// canonical record per key. Output order follows the first appearance of each
// key. Keys that occur once pass through unchanged, so merging an already
// merged collection returns it as is.
//
// For a group of duplicates:
//   - the record with the greatest last_updated is the base (missing sorts last,
//     ties keep encounter order);
//   - date_sent is the earliest non-empty date_sent of the group;
//   - follow_up_dates is the sorted, duplicate-free union of every recorded
//     follow-up and every date_sent other than the merged one;
//   - notes are the non-empty notes of the group in encounter order, joined
//     with NotesDelimiter;
//   - name and institution are the longest non-empty values, ties going to the
//     first in encounter order.
//
// Merge performs no I/O and does not modify its input.
func Merge(records []Record, opts MergeOptions) ([]Record, MergeReport, error) {
	report := MergeReport{Input: len(records)}
	if len(records) == 0 {
		if opts.RequireNonEmpty {
			return nil, report, ErrEmptyCollection
		}
		return []Record{}, report, nil
	}

	var order []string
	groups := make(map[string][]int)
	for i := range records {
		key := records[i].Key()
		if strings.TrimSpace(key) == "" {
			return nil, report, &MalformedRecordError{Index: i, Reason: "missing identity key"}
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	out := make([]Record, 0, len(order))
	for _, key := range order {
		idx := groups[key]
		if len(idx) == 1 {
			out = append(out, records[idx[0]].Clone())
			continue
		}

		members := make([]*Record, len(idx))
		for i, j := range idx {
			members[i] = &records[j]
		}
		merged := mergeGroup(members)
		out = append(out, merged)
		report.Groups = append(report.Groups, GroupReport{
			Key:         key,
			Members:     len(members),
			CanonicalID: merged.ID,
			DateSent:    merged.DateSent,
			FollowUps:   len(merged.FollowUpDates),
		})
	}

	report.Output = len(out)
	return out, report, nil
}

// mergeGroup folds members, given in encounter order, into one record.
func mergeGroup(members []*Record) Record {
	byRecency := make([]*Record, len(members))
	copy(byRecency, members)
	sort.SliceStable(byRecency, func(i, j int) bool {
		// "" is less than any date, so missing values sort last
		return byRecency[i].LastUpdated > byRecency[j].LastUpdated
	})
	merged := byRecency[0].Clone()

	primary := ""
	for _, m := range members {
		if m.DateSent != "" && (primary == "" || m.DateSent < primary) {
			primary = m.DateSent
		}
	}

	// A recorded follow-up equal to the merged primary is kept.
	seen := make(map[string]struct{})
	for _, m := range members {
		for _, d := range m.FollowUpDates {
			if d != "" {
				seen[d] = struct{}{}
			}
		}
	}
	for _, m := range members {
		if m.DateSent != "" && m.DateSent != primary {
			seen[m.DateSent] = struct{}{}
		}
	}
	followUps := make([]string, 0, len(seen))
	for d := range seen {
		followUps = append(followUps, d)
	}
	sort.Strings(followUps)

	merged.FollowUpDates = followUps
	merged.markPresent(FieldFollowUpDates)
	if primary != "" {
		merged.DateSent = primary
	}

	var notes []string
	for _, m := range members {
		if m.Notes != "" {
			notes = append(notes, m.Notes)
		}
	}
	if len(notes) > 0 {
		merged.Notes = strings.Join(notes, NotesDelimiter)
	}

	if name := longest(members, func(r *Record) string { return r.Name }); name != "" {
		merged.Name = name
	}
	if inst := longest(members, func(r *Record) string { return r.Institution }); inst != "" {
		merged.Institution = inst
	}

	return merged
}

// longest returns the longest value, the first one winning ties.
func longest(members []*Record, get func(*Record) string) string {
	best, bestLen := "", 0
	for _, m := range members {
		if v := get(m); utf8.RuneCountInString(v) > bestLen {
			best, bestLen = v, utf8.RuneCountInString(v)
		}
	}
	return best
}
