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

// Package htmltext converts email HTML into the three text forms the
// pipeline needs: sanitized HTML for re-rendering, normalized plain text for
// storage, search and topic extraction, and masked text whose code-point
// offsets match the original HTML.
package htmltext

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	p.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("strong", "em", "u", "s", "code", "pre", "blockquote")
	p.AllowElements("ul", "ol", "li")
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("style").OnElements("span", "div", "p", "td")

	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto", "cid")
	return p
}

// Sanitize strips active and unsafe markup. Character entities are decoded
// in the output; only the characters HTML requires escaped remain escaped.
func Sanitize(html string) string {
	return policy.Sanitize(html)
}

// maskRules are applied in order; block rules run before the generic tag
// rule so their inner text is masked too.
var maskRules = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<head\b[^<>]*>.*?</head\s*>`),
	regexp.MustCompile(`(?is)<style\b[^<>]*>.*?</style\s*>`),
	regexp.MustCompile(`(?is)<script\b[^<>]*>.*?</script\s*>`),
	regexp.MustCompile(`<[^>]+>`),
}

// Masked replaces head, style and script blocks and then every tag with a
// run of spaces of the same code-point length. Offsets into the result are
// offsets into html.
func Masked(html string) string {
	text := html
	for _, rule := range maskRules {
		text = rule.ReplaceAllStringFunc(text, func(match string) string {
			return strings.Repeat(" ", utf8.RuneCountInString(match))
		})
	}
	return text
}
