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

package htmltext

import (
	"strings"

	"golang.org/x/net/html"
)

// skipElements are elements whose text content is discarded.
var skipElements = map[string]bool{
	"head":     true,
	"style":    true,
	"script":   true,
	"noscript": true,
}

// blockElements start and end a line.
var blockElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "table": true, "tr": true, "ul": true, "ol": true,
	"section": true, "article": true, "header": true, "footer": true,
	"nav": true, "main": true, "aside": true, "figure": true,
	"figcaption": true, "details": true, "summary": true, "hr": true,
	"address": true, "dl": true, "dt": true, "dd": true,
}

// cellElements are separated by a space within their row.
var cellElements = map[string]bool{
	"td": true,
	"th": true,
}

// PlainText renders html as human-readable text: non-content blocks,
// images and link targets are dropped, block elements and <br> break lines,
// whitespace runs collapse to one space per line and blank lines disappear.
func PlainText(src string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(src))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return normalizeLines(b.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if skipElements[name] && tt == html.StartTagToken {
				skipDepth++
				continue
			}
			switch {
			case name == "br" || blockElements[name]:
				b.WriteByte('\n')
			case cellElements[name]:
				b.WriteByte(' ')
			}

		case html.EndTagToken:
			tn, _ := z.TagName()
			name := string(tn)
			if skipElements[name] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockElements[name] {
				b.WriteByte('\n')
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			// Source line breaks are formatting, not content.
			b.WriteString(strings.Map(unwrap, string(z.Text())))
		}
	}
}

func unwrap(r rune) rune {
	if r == '\n' || r == '\r' {
		return ' '
	}
	return r
}

// normalizeLines collapses whitespace within each line, drops blank lines
// and trims the result.
func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			out = append(out, collapsed)
		}
	}
	return strings.Join(out, "\n")
}
