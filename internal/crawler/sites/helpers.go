// Package sites contains the per-site crawlers.
package sites

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// metaContent returns the content of the first matching meta property
// or name.
func metaContent(doc *goquery.Document, keys ...string) string {
	for _, key := range keys {
		sel := doc.Find(`meta[property="` + key + `"], meta[name="` + key + `"]`)
		if content, ok := sel.First().Attr("content"); ok && strings.TrimSpace(content) != "" {
			return strings.TrimSpace(content)
		}
	}
	return ""
}

// metaContents returns all non-empty contents for one meta property.
func metaContents(doc *goquery.Document, key string) []string {
	var out []string
	doc.Find(`meta[property="` + key + `"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
			out = append(out, strings.TrimSpace(content))
		}
	})
	return out
}

// dedupe removes empty strings and duplicates, preserving order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

var nameSeparators = regexp.MustCompile(`[|｜,，/／、]`)

// splitNames breaks a joined credit string into individual names.
func splitNames(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range nameSeparators.Split(value, -1) {
		name := strings.TrimSpace(part)
		if name == "" || name == "-" || name == "_" {
			continue
		}
		out = append(out, name)
	}
	return out
}

var parenthesizedName = regexp.MustCompile(`[（(]\s*([^()（）]+?)\s*[）)]`)

// preferJapaneseName keeps the parenthesized reading when a credit is
// written as "romaji (日本語)".
func preferJapaneseName(value string) string {
	name := strings.TrimSpace(value)
	if name == "" {
		return ""
	}
	if m := parenthesizedName.FindStringSubmatch(name); m != nil {
		if jp := strings.TrimSpace(m[1]); jp != "" {
			return jp
		}
	}
	return name
}

func normalizePersonNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, preferJapaneseName(name))
	}
	return dedupe(out)
}

var digitsRe = regexp.MustCompile(`\d+`)

// toMinutes normalizes a runtime value. Values of 300 and up are
// seconds and get converted; smaller values are already minutes.
func toMinutes(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return ""
	}
	m := digitsRe.FindString(value)
	if m == "" {
		return value
	}
	num, err := strconv.Atoi(m)
	if err != nil {
		return value
	}
	if num >= 300 {
		minutes := (num + 30) / 60
		if minutes < 1 {
			minutes = 1
		}
		return strconv.Itoa(minutes)
	}
	return strconv.Itoa(num)
}

var yearRe = regexp.MustCompile(`\d{4}`)

// yearFrom pulls the first 4-digit run out of a release string.
func yearFrom(release string) string {
	return yearRe.FindString(release)
}

// upperLetters uppercases the letter runs of a number, leaving digits
// and separators alone.
var letterRuns = regexp.MustCompile(`[a-z]+`)

func upperLetters(number string) string {
	return letterRuns.ReplaceAllStringFunc(strings.TrimSpace(number), strings.ToUpper)
}
