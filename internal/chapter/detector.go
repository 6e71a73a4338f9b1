// Package chapter derives the important headings of a translated work from
// its segment stream and keeps per-chapter progress counters.
package chapter

import (
	"langify/api/internal/htmltext"
)

// Segment is the slice of a translated segment the detector needs.
type Segment struct {
	ID              int64
	Position        int
	Tag             string
	Classes         string
	Content         string
	OriginalContent string
}

// Boundary is one detected chapter heading.
type Boundary struct {
	SegmentID     int64
	Position      int
	FirstPosition int
	Number        *int
	Tag           string
	Classes       string
}

// headingLevel maps h1..h6 to 1..6 and everything else to 0.
func headingLevel(tag string) int {
	if len(tag) != 2 || tag[0] != 'h' {
		return 0
	}
	if tag[1] < '1' || tag[1] > '6' {
		return 0
	}
	return int(tag[1] - '0')
}

// Detect scans segments in position order and returns the chapter
// boundaries. Boundaries sit at headings whose level is at or above the
// dominant chapter level of the work; a lone leading h1 is treated as the
// work title, and in manuscripts a leading all-digit h2 (usually a year) is
// skipped. Detection is deterministic over the segment stream.
func Detect(segments []Segment, manuscript bool) []Boundary {
	levelCounts := make(map[int]int)
	headingCount := 0
	for _, seg := range segments {
		if level := headingLevel(seg.Tag); level > 0 {
			levelCounts[level]++
			headingCount++
		}
	}
	if headingCount == 0 {
		return nil
	}

	dominant := 1
	for level := 1; level <= 6; level++ {
		if levelCounts[level] >= 2 {
			dominant = level
			break
		}
	}

	titleIndex := titleSegmentIndex(segments, levelCounts, headingCount)

	var boundaries []Boundary
	var skipped []int
	seenHeading := false
	for i, seg := range segments {
		level := headingLevel(seg.Tag)
		if level == 0 {
			continue
		}
		if i == titleIndex {
			if headingCount == 1 {
				// The title is the only heading: it is the sole chapter.
				boundaries = append(boundaries, boundaryFor(seg))
			}
			continue
		}
		leading := !seenHeading
		seenHeading = true
		if level > dominant {
			continue
		}
		if manuscript && leading && seg.Tag == "h2" && isDigits(Sample(seg.Content, seg.OriginalContent)) {
			skipped = append(skipped, seg.Position)
			continue
		}
		boundaries = append(boundaries, boundaryFor(seg))
	}

	// Numbering starts at the first boundary on the dominant level.
	// Shallower boundaries before it are front matter and stay unnumbered.
	previous := 0
	numbered := 0
	numbering := false
	for i := range boundaries {
		if !numbering && headingLevel(boundaries[i].Tag) >= dominant {
			numbering = true
		}
		if numbering {
			numbered++
			n := numbered
			boundaries[i].Number = &n
		}
		// A heading skipped as boundary, and the run after it, belong to
		// the chapter that follows.
		for _, position := range skipped {
			if position > previous && position < boundaries[i].FirstPosition {
				boundaries[i].FirstPosition = position
				break
			}
		}
		previous = boundaries[i].Position
	}
	return boundaries
}

func boundaryFor(seg Segment) Boundary {
	return Boundary{
		SegmentID:     seg.ID,
		Position:      seg.Position,
		FirstPosition: seg.Position,
		Tag:           seg.Tag,
		Classes:       seg.Classes,
	}
}

// titleSegmentIndex returns the index of the work title, or -1. The title is
// the very first segment when it is the only h1 of the work.
func titleSegmentIndex(segments []Segment, levelCounts map[int]int, headingCount int) int {
	if len(segments) == 0 {
		return -1
	}
	if segments[0].Tag == "h1" && levelCounts[1] == 1 {
		if headingCount == 1 {
			// Sole heading: it stays a chapter, not a title.
			return -1
		}
		return 0
	}
	return -1
}

// Assign maps every segment position to the index into boundaries of its
// chapter, or -1 for segments before the first chapter.
func Assign(boundaries []Boundary, segments []Segment) map[int]int {
	assignment := make(map[int]int, len(segments))
	for _, seg := range segments {
		assignment[seg.Position] = -1
		for i := len(boundaries) - 1; i >= 0; i-- {
			if boundaries[i].FirstPosition <= seg.Position {
				assignment[seg.Position] = i
				break
			}
		}
	}
	return assignment
}

// Sample is the heading text shown in a table of contents: the translated
// content when present, else the original's, markup stripped.
func Sample(content, originalContent string) string {
	if stripped := htmltext.Strip(content); stripped != "" {
		return stripped
	}
	return htmltext.Strip(originalContent)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
