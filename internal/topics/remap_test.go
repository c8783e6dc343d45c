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

package topics

import (
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"unicode"

	"github.com/deepframe/mailflow/internal/htmltext"
	"github.com/deepframe/mailflow/internal/models"
)

func runeSlice(s string, o models.Offset) string {
	return string([]rune(s)[o.Start:o.End])
}

// TestRemap_WordByWord verifies each word of a span maps to its own HTML
// offset across tags and re-spacing.
func TestRemap_WordByWord(t *testing.T) {
	html := "<p>Quarterly   <b>budget</b>\nreview</p><p>Next steps</p>"
	normalized := htmltext.PlainText(html)
	masked := htmltext.Masked(html)

	if normalized != "Quarterly budget review\nNext steps" {
		t.Fatalf("normalized = %q", normalized)
	}

	got := Remap([]ExtractedTopic{{
		Name:    "budget review",
		Score:   0.9,
		Offsets: []models.Offset{{Start: 10, End: 23}},
	}}, normalized, masked)

	if len(got) != 1 {
		t.Fatalf("topics = %d, want 1", len(got))
	}
	topic := got[0]
	if topic.Source != models.TopicSourceDeepTopic {
		t.Errorf("source = %q, want deeptopic", topic.Source)
	}
	if len(topic.HTMLOffsets) != 2 {
		t.Fatalf("html offsets = %v, want 2", topic.HTMLOffsets)
	}
	for i, want := range []string{"budget", "review"} {
		if s := runeSlice(html, topic.HTMLOffsets[i]); s != want {
			t.Errorf("offset %d covers %q, want %q", i, s, want)
		}
	}
}

// TestRemap_RepeatedPhrase verifies repeated phrases resolve to successive
// occurrences instead of the first one.
func TestRemap_RepeatedPhrase(t *testing.T) {
	html := "go team<br>go   team"
	normalized := htmltext.PlainText(html)
	masked := htmltext.Masked(html)

	got := Remap([]ExtractedTopic{{
		Name:    "go team",
		Offsets: []models.Offset{{Start: 8, End: 15}, {Start: 0, End: 7}},
	}}, normalized, masked)

	want := []models.Offset{{Start: 0, End: 2}, {Start: 3, End: 7}, {Start: 11, End: 13}, {Start: 16, End: 20}}
	if !slices.Equal(got[0].HTMLOffsets, want) {
		t.Errorf("html offsets = %v, want %v", got[0].HTMLOffsets, want)
	}
	if got[0].TextOffsets[0].Start != 0 {
		t.Errorf("text offsets not sorted: %v", got[0].TextOffsets)
	}
}

// TestRemap_RepeatedWordWithinPhrase verifies a word repeated inside one
// phrase maps to each occurrence in turn.
func TestRemap_RepeatedWordWithinPhrase(t *testing.T) {
	normalized := "very very good"
	masked := "   very  very good"

	got := Remap([]ExtractedTopic{{Name: "x", Offsets: []models.Offset{{Start: 0, End: 14}}}}, normalized, masked)

	want := []models.Offset{{Start: 3, End: 7}, {Start: 9, End: 13}, {Start: 14, End: 18}}
	if !slices.Equal(got[0].HTMLOffsets, want) {
		t.Errorf("html offsets = %v, want %v", got[0].HTMLOffsets, want)
	}
}

// TestRemap_LaterTopicRepeatsEarlierWord verifies a span resolves to the
// occurrence at its own position, not the first one in the text.
func TestRemap_LaterTopicRepeatsEarlierWord(t *testing.T) {
	html := "<p>cat dog cat</p>"
	normalized := htmltext.PlainText(html)
	masked := htmltext.Masked(html)

	got := Remap([]ExtractedTopic{
		{Name: "dog", Offsets: []models.Offset{{Start: 4, End: 7}}},
		{Name: "cat", Offsets: []models.Offset{{Start: 8, End: 11}}},
	}, normalized, masked)

	if want := []models.Offset{{Start: 7, End: 10}}; !slices.Equal(got[0].HTMLOffsets, want) {
		t.Errorf("dog offsets = %v, want %v", got[0].HTMLOffsets, want)
	}
	if want := []models.Offset{{Start: 11, End: 14}}; !slices.Equal(got[1].HTMLOffsets, want) {
		t.Errorf("cat offsets = %v, want %v", got[1].HTMLOffsets, want)
	}
}

// TestRemap_SpaceEntities verifies words joined by a non-breaking space
// entity still match as one phrase.
func TestRemap_SpaceEntities(t *testing.T) {
	for _, entity := range []string{"&nbsp;", "&#160;", "&#xA0;", " &nbsp; "} {
		t.Run(entity, func(t *testing.T) {
			html := "<p>big" + entity + "data</p>"
			normalized := htmltext.PlainText(html)
			masked := htmltext.Masked(html)

			got := Remap([]ExtractedTopic{{
				Name:    "big data",
				Offsets: []models.Offset{{Start: 0, End: len([]rune(normalized))}},
			}}, normalized, masked)

			if len(got[0].HTMLOffsets) != 2 {
				t.Fatalf("html offsets = %v, want 2 (normalized %q)", got[0].HTMLOffsets, normalized)
			}
			for i, want := range []string{"big", "data"} {
				if s := runeSlice(html, got[0].HTMLOffsets[i]); s != want {
					t.Errorf("offset %d covers %q, want %q", i, s, want)
				}
			}
		})
	}
}

// TestRemap_DropsUnmatchedAndInvalidSpans verifies bad spans are skipped
// while later spans still map.
func TestRemap_DropsUnmatchedAndInvalidSpans(t *testing.T) {
	normalized := "alpha beta gamma"
	masked := "alpha      gamma" // beta absent

	got := Remap([]ExtractedTopic{{
		Name: "x",
		Offsets: []models.Offset{
			{Start: 6, End: 10},  // beta: no match
			{Start: 11, End: 16}, // gamma
			{Start: -3, End: 2},  // negative start
			{Start: 40, End: 50}, // past the end
			{Start: 5, End: 5},   // empty
		},
	}}, normalized, masked)

	want := []models.Offset{{Start: 11, End: 16}}
	if !slices.Equal(got[0].HTMLOffsets, want) {
		t.Errorf("html offsets = %v, want %v", got[0].HTMLOffsets, want)
	}
	if len(got[0].TextOffsets) != 5 {
		t.Errorf("text offsets = %d, want all 5 kept", len(got[0].TextOffsets))
	}
}

// TestRemap_Multibyte verifies offsets are counted in code points.
func TestRemap_Multibyte(t *testing.T) {
	html := "<p>café <i>naïve</i> 日本語</p>"
	normalized := htmltext.PlainText(html)
	masked := htmltext.Masked(html)

	got := Remap([]ExtractedTopic{{
		Name:    "naïve",
		Source:  models.TopicSourceUser,
		Offsets: []models.Offset{{Start: 5, End: 14}},
	}}, normalized, masked)

	if got[0].Source != models.TopicSourceUser {
		t.Errorf("source = %q, want user", got[0].Source)
	}
	if len(got[0].HTMLOffsets) != 2 {
		t.Fatalf("html offsets = %v, want 2", got[0].HTMLOffsets)
	}
	if s := runeSlice(html, got[0].HTMLOffsets[1]); s != "日本語" {
		t.Errorf("second word = %q, want 日本語", s)
	}
}

// TestRemap_EmptyInput verifies empty topic lists and offset lists.
func TestRemap_EmptyInput(t *testing.T) {
	if got := Remap(nil, "text", "text"); len(got) != 0 {
		t.Errorf("Remap(nil) = %v, want empty", got)
	}

	got := Remap([]ExtractedTopic{{Name: "x"}}, "text", "text")
	if got[0].TextOffsets == nil || got[0].HTMLOffsets == nil {
		t.Error("offset lists should be empty, not nil")
	}
}

// --- Property tests ---

var (
	vocabulary = []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf", "hotel"}
	separators = []string{
		" ", "   ", "\n", "\t", " <b>", "</b> ", "<br>", "</p><p>",
		" <span class=\"x\">", "</span> ", "<div>", " <a href=\"http://x.test/a b\">",
	}
)

// document is generated HTML with the code-point position of every word.
type document struct {
	html      string
	words     []string
	positions []models.Offset
}

func buildDocument(rng *rand.Rand, words []string) document {
	var b strings.Builder
	pos := 0
	write := func(s string) {
		b.WriteString(s)
		pos += len([]rune(s))
	}

	write("<html><head><title>alpha bravo</title><style>p { color: red }</style></head><body><p>")
	doc := document{words: words}
	for i, w := range words {
		if i > 0 {
			write(separators[rng.Intn(len(separators))])
		}
		doc.positions = append(doc.positions, models.Offset{Start: pos, End: pos + len([]rune(w))})
		write(w)
	}
	write("</p><script>alpha()</script></body></html>")
	doc.html = b.String()
	return doc
}

// wordOffsets returns the code-point span of every whitespace-separated
// word in s.
func wordOffsets(s string) []models.Offset {
	var out []models.Offset
	start := -1
	i := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, models.Offset{Start: start, End: i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i++
	}
	if start >= 0 {
		out = append(out, models.Offset{Start: start, End: i})
	}
	return out
}

// topicPlan records the words each generated span covers, per topic.
type topicPlan struct {
	extracted ExtractedTopic
	words     []string
	positions []models.Offset
}

// planTopics cuts the word sequence into non-overlapping runs of one to
// three words and hands them to topics. With ordered set, topic i owns only
// runs that come before topic i+1's runs.
func planTopics(rng *rand.Rand, doc document, normWords []models.Offset, numTopics int, ordered bool) []topicPlan {
	plans := make([]topicPlan, numTopics)
	for i := range plans {
		plans[i].extracted.Name = fmt.Sprintf("topic-%d", i)
		plans[i].extracted.Score = rng.Float64()
	}

	n := len(doc.words)
	for i := 0; i < n; {
		size := 1 + rng.Intn(3)
		if i+size > n {
			size = n - i
		}
		if rng.Intn(4) != 0 {
			var owner int
			if ordered {
				owner = i * numTopics / n
			} else {
				owner = rng.Intn(numTopics)
			}
			p := &plans[owner]
			p.extracted.Offsets = append(p.extracted.Offsets, models.Offset{
				Start: normWords[i].Start,
				End:   normWords[i+size-1].End,
			})
			p.words = append(p.words, doc.words[i:i+size]...)
			p.positions = append(p.positions, doc.positions[i:i+size]...)
		}
		i += size
	}

	for i := range plans {
		rng.Shuffle(len(plans[i].extracted.Offsets), func(a, b int) {
			offs := plans[i].extracted.Offsets
			offs[a], offs[b] = offs[b], offs[a]
		})
	}
	return plans
}

func extractedOf(plans []topicPlan) []ExtractedTopic {
	out := make([]ExtractedTopic, len(plans))
	for i, p := range plans {
		out[i] = p.extracted
	}
	return out
}

// TestRemap_Property verifies on random documents that every span maps
// word-for-word onto HTML substrings equal to its words, in order and
// without going backwards.
func TestRemap_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(20240115))

	for iter := 0; iter < 300; iter++ {
		words := make([]string, 5+rng.Intn(40))
		for i := range words {
			words[i] = vocabulary[rng.Intn(len(vocabulary))]
		}
		doc := buildDocument(rng, words)
		normalized := htmltext.PlainText(doc.html)
		masked := htmltext.Masked(doc.html)

		if !slices.Equal(strings.Fields(normalized), words) {
			t.Fatalf("iteration %d: normalized words %q, want %q", iter, strings.Fields(normalized), words)
		}

		plans := planTopics(rng, doc, wordOffsets(normalized), 1+rng.Intn(4), false)
		got := Remap(extractedOf(plans), normalized, masked)

		if len(got) != len(plans) {
			t.Fatalf("iteration %d: topics = %d, want %d", iter, len(got), len(plans))
		}
		for ti, topic := range got {
			want := plans[ti].words
			if len(topic.HTMLOffsets) != len(want) {
				t.Fatalf("iteration %d topic %d: %d html offsets, want %d\nhtml: %q",
					iter, ti, len(topic.HTMLOffsets), len(want), doc.html)
			}
			for k, off := range topic.HTMLOffsets {
				if s := runeSlice(doc.html, off); s != want[k] {
					t.Fatalf("iteration %d topic %d word %d: html %q, want %q", iter, ti, k, s, want[k])
				}
				if s := runeSlice(masked, off); s != want[k] {
					t.Fatalf("iteration %d topic %d word %d: masked %q, want %q", iter, ti, k, s, want[k])
				}
				if k > 0 && off.Start < topic.HTMLOffsets[k-1].End {
					t.Fatalf("iteration %d topic %d: offset %v starts before %v", iter, ti, off, topic.HTMLOffsets[k-1])
				}
			}
			if !slices.IsSortedFunc(topic.TextOffsets, func(a, b models.Offset) int { return a.Start - b.Start }) {
				t.Fatalf("iteration %d topic %d: text offsets not sorted", iter, ti)
			}
		}
	}
}

// TestRemap_PropertyOrderedTopics verifies on documents built from a tiny
// vocabulary that every span lands on its true position, so later topics
// never start before the previous topic's last span.
func TestRemap_PropertyOrderedTopics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	small := vocabulary[:3]

	for iter := 0; iter < 300; iter++ {
		words := make([]string, 8+rng.Intn(40))
		for i := range words {
			words[i] = small[rng.Intn(len(small))]
		}
		doc := buildDocument(rng, words)
		normalized := htmltext.PlainText(doc.html)
		masked := htmltext.Masked(doc.html)

		plans := planTopics(rng, doc, wordOffsets(normalized), 1+rng.Intn(4), true)
		got := Remap(extractedOf(plans), normalized, masked)

		lastEnd := 0
		for ti, topic := range got {
			if !slices.Equal(topic.HTMLOffsets, plans[ti].positions) {
				t.Fatalf("iteration %d topic %d: html offsets %v, want %v\nhtml: %q",
					iter, ti, topic.HTMLOffsets, plans[ti].positions, doc.html)
			}
			if len(topic.HTMLOffsets) == 0 {
				continue
			}
			if topic.HTMLOffsets[0].Start < lastEnd {
				t.Fatalf("iteration %d topic %d starts at %d before previous end %d",
					iter, ti, topic.HTMLOffsets[0].Start, lastEnd)
			}
			lastEnd = topic.HTMLOffsets[len(topic.HTMLOffsets)-1].End
		}
	}
}
