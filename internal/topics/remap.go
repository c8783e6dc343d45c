// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package topics annotates messages with extracted topics and maps the
// extractor's plain-text spans back onto the message HTML.
package topics

import (
	"slices"
	"strings"
	"unicode"

	"github.com/deepframe/mailflow/internal/models"
)

// ExtractedTopic is one entry of the extractor response. Offsets are
// code-point spans into the normalized text that was submitted.
type ExtractedTopic struct {
	Name    string          `json:"name"`
	Score   float64         `json:"score"`
	Source  string          `json:"source,omitempty"`
	Offsets []models.Offset `json:"offset"`
}

// Remap converts extracted topics into stored topics. For every span the
// words of normalized[start:end] are located in masked as a whole phrase
// (whitespace or non-breaking space entities between words), and one HTML
// offset is emitted per word. A span whose phrase occurs n times before it
// in normalized resolves to the n-th occurrence in masked, so repeated
// phrases land on their true position. When masked holds fewer
// occurrences the span falls back to the leftmost match after the topic's
// previous span. Spans that are out of range or cannot be found are
// dropped.
func Remap(extracted []ExtractedTopic, normalized, masked string) []models.Topic {
	norm := []rune(normalized)
	html := []rune(masked)

	out := make([]models.Topic, 0, len(extracted))
	for _, et := range extracted {
		spans := slices.Clone(et.Offsets)
		slices.SortStableFunc(spans, func(a, b models.Offset) int {
			if a.Start != b.Start {
				return a.Start - b.Start
			}
			return a.End - b.End
		})

		topic := models.Topic{
			Name:        et.Name,
			Score:       et.Score,
			Source:      et.Source,
			TextOffsets: spans,
			HTMLOffsets: []models.Offset{},
		}
		if topic.Source == "" {
			topic.Source = models.TopicSourceDeepTopic
		}
		if topic.TextOffsets == nil {
			topic.TextOffsets = []models.Offset{}
		}

		sc := scanner{text: html}
		for _, span := range spans {
			words := spanWords(norm, span)
			if len(words) == 0 {
				continue
			}
			rank := occurrencesBefore(norm, words, wordStart(norm, span.Start))
			if matched, end, ok := nth(html, words, rank); ok {
				topic.HTMLOffsets = append(topic.HTMLOffsets, matched...)
				sc.cursor = max(sc.cursor, end)
				continue
			}
			if matched, ok := sc.next(words); ok {
				topic.HTMLOffsets = append(topic.HTMLOffsets, matched...)
			}
		}
		out = append(out, topic)
	}
	return out
}

// spanWords returns the whitespace-separated words of norm[span], or nil
// when the span is empty or out of range. An end past the text is clamped.
func spanWords(norm []rune, span models.Offset) [][]rune {
	start, end := span.Start, span.End
	if end > len(norm) {
		end = len(norm)
	}
	if start < 0 || start >= end {
		return nil
	}

	fields := strings.Fields(string(norm[start:end]))
	words := make([][]rune, len(fields))
	for i, f := range fields {
		words[i] = []rune(f)
	}
	return words
}

// wordStart returns the first non-space index at or after i.
func wordStart(text []rune, i int) int {
	for i < len(text) && unicode.IsSpace(text[i]) {
		i++
	}
	return i
}

// occurrencesBefore counts phrase matches in text starting before limit.
// Overlapping matches count separately.
func occurrencesBefore(text []rune, words [][]rune, limit int) int {
	n := 0
	for from := 0; ; {
		matched, _, ok := find(text, words, from)
		if !ok || matched[0].Start >= limit {
			return n
		}
		n++
		from = matched[0].Start + 1
	}
}

// nth returns the n-th (zero-based) phrase match in text, counted the same
// way as occurrencesBefore.
func nth(text []rune, words [][]rune, n int) ([]models.Offset, int, bool) {
	from := 0
	for {
		matched, end, ok := find(text, words, from)
		if !ok {
			return nil, 0, false
		}
		if n == 0 {
			return matched, end, true
		}
		n--
		from = matched[0].Start + 1
	}
}

// scanner finds word phrases in text left to right.
type scanner struct {
	text   []rune
	cursor int
}

// next finds the leftmost occurrence at or after the cursor. On success the
// cursor moves past the match.
func (s *scanner) next(words [][]rune) ([]models.Offset, bool) {
	matched, end, ok := find(s.text, words, s.cursor)
	if !ok {
		return nil, false
	}
	s.cursor = end
	return matched, true
}

// find returns the leftmost occurrence at or after from of words joined by
// separator runs.
func find(text []rune, words [][]rune, from int) ([]models.Offset, int, bool) {
	for {
		start := indexRunes(text, words[0], from)
		if start < 0 {
			return nil, 0, false
		}
		if matched, end, ok := matchAt(text, words, start); ok {
			return matched, end, true
		}
		from = start + 1
	}
}

// matchAt tries the phrase anchored at start. Words contain no whitespace,
// so consuming the whole separator run between words is the only way the
// next word can match.
func matchAt(text []rune, words [][]rune, start int) ([]models.Offset, int, bool) {
	matched := make([]models.Offset, 0, len(words))
	i := start
	for k, w := range words {
		if k > 0 {
			j := skipSeparators(text, i)
			if j == i {
				return nil, 0, false
			}
			i = j
		}
		if !hasRunesAt(text, w, i) {
			return nil, 0, false
		}
		matched = append(matched, models.Offset{Start: i, End: i + len(w)})
		i += len(w)
	}
	return matched, i, true
}

// spaceEntities are left undecoded by masking but render as spaces.
var spaceEntities = [][]rune{
	[]rune("&nbsp;"),
	[]rune("&#160;"),
	[]rune("&#xa0;"),
	[]rune("&#xA0;"),
}

// skipSeparators returns the index after the run of whitespace and space
// entities starting at i.
func skipSeparators(text []rune, i int) int {
	for i < len(text) {
		if unicode.IsSpace(text[i]) {
			i++
			continue
		}
		n := 0
		for _, e := range spaceEntities {
			if hasRunesAt(text, e, i) {
				n = len(e)
				break
			}
		}
		if n == 0 {
			break
		}
		i += n
	}
	return i
}

func indexRunes(text, word []rune, from int) int {
	for i := from; i+len(word) <= len(text); i++ {
		if hasRunesAt(text, word, i) {
			return i
		}
	}
	return -1
}

func hasRunesAt(text, word []rune, at int) bool {
	if at < 0 || at+len(word) > len(text) {
		return false
	}
	for k, r := range word {
		if text[at+k] != r {
			return false
		}
	}
	return true
}
