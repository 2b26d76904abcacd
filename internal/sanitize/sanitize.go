// Package sanitize turns raw HTML pages into compact plain text suitable for
// a language model prompt.
package sanitize

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/cases"
)

// Elements that never carry article text.
const noiseSelector = "script, style, noscript, svg, picture, source, template, iframe, " +
	"header, footer, nav, aside, form, menu"

var (
	// Matched as a substring against an element's id and class list.
	layoutIdentRe = regexp.MustCompile(`(?i)(nav|menu|breadcrumb|footer|header|social|subscribe|comment|related|sidebar|cookie|banner|ad|promo|partner|catalog|search|rating|license|policy)`)

	emailRe = regexp.MustCompile(`[\p{L}\p{N}_.-]+@[\p{L}\p{N}_.-]+\.[A-Za-zА-Яа-я]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\p{Nd}[\p{Nd}\-\s()]{8,}\p{Nd}`)
)

// boilerplatePrefixes are navigation and legal lines common on Russian and
// English news and corporate sites.
var boilerplatePrefixes = []string{
	"Поиск", "Главное", "Новости", "Публикации", "Интервью", "Спецпроекты",
	"Подкасты", "Афиша", "RSS-новости", "Рейтинги", "Категории", "Каталог",
	"Кейсы", "Ещё", "Maps", "Market", "Contacts", "Контакты",
	"Мы в социальных сетях:", "Подписывайтесь", "Мы на связи", "На главную",
	"Этот сайт использует cookie", "Политика конфиденциальности",
	"Пользовательское соглашение",
	"Положение об обработке персональных данных",
	"Согласие на обработку персональных данных",
	"©", "Telegram", "ВКонтакте", "Одноклассники", "Rutube", "Все рейтинги",
	"Лидеры рейтингов", "Календарь событий",
}

// minTokens is the shortest line kept unless it contains contact details.
const minTokens = 3

// Decode converts an HTML document to UTF-8. The encoding comes from a byte
// order mark, the charset in contentType, or a <meta> declaration, in that
// order. Without a BOM or header, a body that is already valid UTF-8 is
// returned unchanged, since meta tags are often stale.
func Decode(page []byte, contentType string) []byte {
	enc, name, certain := charset.DetermineEncoding(page, contentType)
	if name == "utf-8" || (!certain && validUTF8(page)) {
		return page
	}
	out, err := enc.NewDecoder().Bytes(page)
	if err != nil {
		return page
	}
	return out
}

// validUTF8 reports whether b is UTF-8, allowing one rune cut short at the
// end of a truncated body.
func validUTF8(b []byte) bool {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		if r := b[len(b)-1]; r < utf8.RuneSelf {
			return false
		}
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}

// Text strips markup and layout noise from an HTML document and returns the
// remaining lines joined by newlines. Lines are whitespace-collapsed and
// deduplicated case-insensitively, first occurrence wins. Pages in a legacy
// encoding declared by <meta charset> are decoded first. Empty or
// unparseable input yields "".
func Text(page []byte) string {
	if len(bytes.TrimSpace(page)) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(Decode(page, "")))
	if err != nil {
		return ""
	}

	doc.Find(noiseSelector).Remove()
	doc.Find("*").FilterFunction(isLayoutElement).Remove()

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	var parts []string
	for _, n := range root.Nodes {
		collectText(n, &parts)
	}

	return strings.Join(filterLines(strings.Join(parts, "\n")), "\n")
}

func isLayoutElement(_ int, s *goquery.Selection) bool {
	if s.Is("html, body") {
		return false
	}
	id, _ := s.Attr("id")
	class, _ := s.Attr("class")
	ident := strings.TrimSpace(id + " " + strings.Join(strings.Fields(class), " "))
	return ident != "" && layoutIdentRe.MatchString(ident)
}

// collectText appends every text node under n. Comment nodes are skipped.
func collectText(n *html.Node, out *[]string) {
	if n.Type == html.TextNode {
		*out = append(*out, n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}

func filterLines(text string) []string {
	fold := cases.Fold()
	seen := make(map[string]struct{})
	var kept []string

	for _, raw := range strings.FieldsFunc(text, isLineBreak) {
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			continue
		}
		line := strings.Join(fields, " ")

		key := fold.String(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if isBoilerplate(line) {
			continue
		}
		if len(fields) < minTokens && !emailRe.MatchString(line) && !phoneRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}

// isBoilerplate reports whether line starts with a boilerplate phrase
// followed by a word boundary.
func isBoilerplate(line string) bool {
	runes := []rune(line)
	for _, p := range boilerplatePrefixes {
		pr := []rune(p)
		if len(runes) < len(pr) || !strings.EqualFold(string(runes[:len(pr)]), p) {
			continue
		}
		last := pr[len(pr)-1]
		if len(runes) == len(pr) {
			if isWordRune(last) {
				return true
			}
			continue
		}
		if isWordRune(last) != isWordRune(runes[len(pr)]) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}
