// Package distill boils a rendered page down to a small markdown document
// holding only what an extractor needs: page metadata and the main content.
package distill

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/jdholdren/wishsync/internal/wishsync"
)

var ErrUnreadable = errors.New("no readable content")

type Options struct {
	// Resolve relative links against the page instead of dropping them.
	// List pages link to many product pages by relative path.
	KeepRelativeLinks bool
}

// Boilerplate removed before conversion. Class/id matches use ~= (whole word)
// where a substring match would catch unrelated names like "preview".
var boilerplate = strings.Join([]string{
	"script", "style", "noscript", "template", "iframe", "svg", "canvas", "link", "meta",
	"nav", "header", "footer", "form", "dialog",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]", "[role=dialog]", "[aria-modal=true]",
	"[class*=cookie]", "[id*=cookie]", "[class*=consent]", "[id*=consent]",
	"[class~=ad]", "[class~=ads]", "[class~=advert]", "[class*=advertisement]", "[class*=ad-slot]", "[class*=ad-banner]", "[id^=google_ads]", "ins.adsbygoogle",
	"[class~=review]", "[class~=reviews]", "[class*=reviews-]", "[class*=review-widget]", "[id~=review]", "[id~=reviews]",
}, ", ")

var blankLines = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+\n`)

// Distill turns html, rendered from pageURL, into a metadata section followed by
// the page content as markdown. Pages without any content fail with a
// [wishsync.ReasonCannotRead] error.
func Distill(html, pageURL string, opts Options) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", wishsync.Fail(wishsync.ReasonCannotRead, fmt.Errorf("error parsing page url: %s", err))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", wishsync.Fail(wishsync.ReasonCannotRead, fmt.Errorf("error parsing html: %s", err))
	}

	meta := metadata(doc, html, base)

	doc.Find(boilerplate).Remove()
	rewriteImages(doc, base)
	rewriteLinks(doc, base, opts.KeepRelativeLinks)

	root := contentRoot(doc)
	if root == nil {
		return "", wishsync.Fail(wishsync.ReasonCannotRead, ErrUnreadable)
	}

	content := md.NewConverter("", true, nil).Convert(root)
	content = strings.TrimSpace(blankLines.ReplaceAllString(content, "\n\n"))
	if content == "" {
		return "", wishsync.Fail(wishsync.ReasonCannotRead, ErrUnreadable)
	}

	var b strings.Builder
	b.WriteString("# Metadata\n")
	for _, kv := range meta {
		fmt.Fprintf(&b, "%s: %s\n", kv.key, kv.value)
	}
	b.WriteString("\n# Page content\n")
	b.WriteString(content)

	return b.String(), nil
}

// The first of main, article and body present in the document.
func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"main", "article", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

func rewriteImages(doc *goquery.Document, base *url.URL) {
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		alt := strings.TrimSpace(s.AttrOr("alt", ""))
		src, ok := resolve(base, s.AttrOr("src", ""))
		if alt == "" || !ok {
			s.Remove()
			return
		}

		s.SetAttr("src", src)
		s.RemoveAttr("srcset")
	})
}

func rewriteLinks(doc *goquery.Document, base *url.URL, keepRelative bool) {
	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		if !hasVisibleText(s) {
			s.Remove()
			return
		}

		href := s.AttrOr("href", "")
		var (
			abs string
			ok  bool
		)
		if keepRelative {
			abs, ok = resolve(base, href)
		} else {
			abs, ok = absolute(href)
		}
		if !ok {
			// Keep the text, lose the link.
			s.ReplaceWithSelection(s.Contents())
			return
		}

		s.SetAttr("href", abs)
	})
}

// Image alt text counts as visible: product tiles are often an image inside a link.
func hasVisibleText(s *goquery.Selection) bool {
	if strings.TrimSpace(s.Text()) != "" {
		return true
	}

	visible := false
	s.Find("img[alt]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		visible = strings.TrimSpace(img.AttrOr("alt", "")) != ""
		return !visible
	})
	return visible
}

func resolve(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	u, err := base.Parse(ref)
	if err != nil || !webURL(u) {
		return "", false
	}

	return u.String(), true
}

func absolute(ref string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || !u.IsAbs() || !webURL(u) {
		return "", false
	}

	return u.String(), true
}

func webURL(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type kv struct {
	key   string
	value string
}

// Title, og:* and twitter:* tags in document order, first value per key.
// Readability fills in a title, description or image the tags didn't provide.
func metadata(doc *goquery.Document, html string, base *url.URL) []kv {
	var (
		out  []kv
		seen = map[string]bool{}
	)
	add := func(key, value string) {
		value = strings.Join(strings.Fields(value), " ")
		if value == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, kv{key: key, value: value})
	}

	add("title", doc.Find("title").First().Text())
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", "")
		if key == "" {
			key = s.AttrOr("name", "")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if strings.HasPrefix(key, "og:") || strings.HasPrefix(key, "twitter:") {
			add(key, s.AttrOr("content", ""))
		}
	})

	if seen["og:title"] && seen["og:description"] && seen["og:image"] {
		return out
	}
	parser := readability.NewParser()
	article, err := parser.Parse(strings.NewReader(html), base)
	if err != nil {
		return out
	}
	if !seen["og:title"] {
		add("title", article.Title)
	}
	if !seen["og:description"] {
		add("description", article.Excerpt)
	}
	if !seen["og:image"] {
		if img, ok := resolve(base, article.Image); ok {
			add("image", img)
		}
	}

	return out
}
