// Package datesplit segments one block of recognized journal text into
// per-day spans when it contains multiple calendar-date markers, as happens
// when a single scan covers several days of a notebook.
package datesplit

import (
	"sort"
	"strings"
	"time"
)

// DetectedDate is a calendar date plus the span in source text where its
// marker was recognized. Transient: it only exists on the way to SplitEntry.
type DetectedDate struct {
	Date  time.Time
	Start int
	End   int
	Raw   string
}

// SplitEntry is one per-day unit of output: the detected date (nil when the
// text carried no recognizable date), the day's content, and its span in the
// source text.
type SplitEntry struct {
	Date    *time.Time
	Content string
	Start   int
	End     int
}

// Markers that sit within this many characters of each other and resolve to
// the same calendar day are one marker, not two (e.g. a date the writer
// repeated in two formats on adjacent lines).
const dedupWindow = 10

// A span must carry more content than its own date marker plus this margin,
// or it is dropped rather than becoming a near-empty entry.
const emptySpanMargin = 5

// Split segments text into per-day entries. Zero or one detected date yields
// a single entry covering the whole text; two or more split the text at each
// marker position.
func Split(text string) []SplitEntry {
	dates := detectDates(text)

	if len(dates) <= 1 {
		entry := SplitEntry{
			Content: strings.TrimSpace(text),
			Start:   0,
			End:     len(text),
		}
		if len(dates) == 1 {
			d := dates[0].Date
			entry.Date = &d
		}
		return []SplitEntry{entry}
	}

	entries := make([]SplitEntry, 0, len(dates))
	for i, d := range dates {
		start := d.Start
		end := len(text)
		if i+1 < len(dates) {
			end = dates[i+1].Start
		}

		content := strings.TrimSpace(text[start:end])
		if len(content) <= len(d.Raw)+emptySpanMargin {
			// Marker with essentially no content under it
			continue
		}

		date := d.Date
		entries = append(entries, SplitEntry{
			Date:    &date,
			Content: content,
			Start:   start,
			End:     end,
		})
	}

	if len(entries) == 0 {
		// All spans were empty headers; fall back to one whole-text entry
		d := dates[0].Date
		return []SplitEntry{{Date: &d, Content: strings.TrimSpace(text), Start: 0, End: len(text)}}
	}

	return entries
}

// detectDates scans text with every pattern, parses the raw matches, and
// returns surviving markers sorted by position with near-duplicates removed.
func detectDates(text string) []DetectedDate {
	var found []DetectedDate
	seen := make(map[int]bool) // start positions already claimed

	for _, pattern := range datePatterns {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if seen[loc[0]] {
				continue
			}
			raw := text[loc[0]:loc[1]]
			date, ok := parseDate(raw)
			if !ok {
				continue
			}
			seen[loc[0]] = true
			found = append(found, DetectedDate{
				Date:  date,
				Start: loc[0],
				End:   loc[1],
				Raw:   raw,
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	// Collapse markers that are near-adjacent and resolve to the same day
	deduped := found[:0]
	for _, d := range found {
		if len(deduped) > 0 {
			prev := deduped[len(deduped)-1]
			if d.Start-prev.Start <= dedupWindow && sameDay(d.Date, prev.Date) {
				continue
			}
		}
		deduped = append(deduped, d)
	}

	return deduped
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
