package datesplit

import (
	"regexp"
	"strings"
	"time"
)

// Date markers anchor at line starts: a journal day header sits on its own
// line, and anchoring avoids matching dates embedded mid-sentence.
const (
	weekdayPrefix = `(?:(?:mon|tues|wednes|thurs|fri|satur|sun)day[,.]?\s+)?`
	monthFull     = `(?:january|february|march|april|may|june|july|august|september|october|november|december)`
	monthAbbrev   = `(?:jan|feb|mar|apr|may|jun|jul|aug|sept?|oct|nov|dec)\.?`
)

// datePatterns is the ordered set of recognizers. Order matters only for
// overlap resolution; every raw match is parsed against the full layout list
// regardless of which pattern found it.
var datePatterns = []*regexp.Regexp{
	// June 11, 2025 / Wednesday, June 11th 2025
	regexp.MustCompile(`(?mi)^` + weekdayPrefix + monthFull + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}`),
	// Jun 11, 2025 / Wed. Jun 11 2025
	regexp.MustCompile(`(?mi)^` + weekdayPrefix + monthAbbrev + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}`),
	// ISO 2025-06-11
	regexp.MustCompile(`(?m)^\d{4}-\d{2}-\d{2}`),
	// 6/11/25, 6/11/2025, 6-11-25, 6-11-2025
	regexp.MustCompile(`(?mi)^` + weekdayPrefix + `\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
}

// dateLayouts is every format any pattern can produce. Each raw match is
// tried against all of them, not just the shape that matched: OCR output is
// messy and the cheapest fix is to let every parser have a go.
var dateLayouts = []string{
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"1-2-06",
	"Monday, January 2, 2006",
	"Monday January 2 2006",
	"Monday, Jan 2, 2006",
	"Monday Jan 2 2006",
}

// genericLayouts is the last-resort pass, run on the match with all
// punctuation stripped
var genericLayouts = []string{
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2006-01-02",
}

var (
	ordinalRe    = regexp.MustCompile(`(?i)(\d)(st|nd|rd|th)\b`)
	weekdayRe    = regexp.MustCompile(`(?i)^(?:mon|tues|wednes|thurs|fri|satur|sun)day[,.]?\s+`)
	abbrevDotRe  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|jun|jul|aug|sept?|oct|nov|dec)\.`)
	septRe       = regexp.MustCompile(`(?i)\bsept\b`)
	punctuationR = regexp.MustCompile(`[.,]`)
)

// minYear guards against false positives: arbitrary small numbers that
// happen to parse ("3-4-5") resolve to ancient dates and are discarded.
const minYear = 1900

// parseDate attempts to parse a raw date marker into a calendar day.
// Ambiguous numeric forms (5-11-23) resolve to the first layout that parses;
// day/month order is not disambiguated.
func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = abbrevDotRe.ReplaceAllString(s, "$1")
	// "Sept" is a common handwritten abbreviation, but only "Sep" parses
	s = septRe.ReplaceAllString(s, "Sep")
	s = strings.Join(strings.Fields(s), " ")

	candidates := []string{s, weekdayRe.ReplaceAllString(s, "")}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t, t.Year() > minYear
			}
		}
	}

	// Generic fallback: strip punctuation entirely and retry
	plain := strings.Join(strings.Fields(punctuationR.ReplaceAllString(candidates[1], " ")), " ")
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, plain); err == nil {
			return t, t.Year() > minYear
		}
	}

	return time.Time{}, false
}
