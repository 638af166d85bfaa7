// Package document parses EPUB content documents, extracts their
// translatable text leaves and rewrites them in place, leaving element
// and attribute structure untouched.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ErrTranslationCount is returned when a translation callback yields a
// different number of segments than it was given.
var ErrTranslationCount = errors.New("translated segment count does not match source")

// TranslateFunc translates an ordered list of text segments and returns
// an equal-length ordered list of translations.
type TranslateFunc func(segments []string) ([]string, error)

const (
	xmlProlog   = `<?xml version="1.0" encoding="utf-8"?>`
	xhtmlNS     = "http://www.w3.org/1999/xhtml"
	contentType = `<meta http-equiv="Content-Type" content="text/html; charset=utf-8"/>`
	metaCharset = `<meta charset="utf-8"/>`
	htmlDoctype = "<!DOCTYPE html>"
)

// prologRe matches an XML declaration at the start of a document,
// including any surrounding whitespace.
var prologRe = regexp.MustCompile(`(?s)^\s*(<\?xml[^>]*\?>)\s*`)

// Translate rewrites the translatable text leaves of a content document
// through fn and returns the reserialized document. Documents with no
// qualifying leaves skip translation entirely but still receive the
// normalization pass, so the operation is idempotent on its own output.
func Translate(data []byte, xhtml bool, fn TranslateFunc) ([]byte, error) {
	data = stripBOM(data)

	prolog := xmlProlog
	if m := prologRe.FindSubmatch(data); m != nil {
		prolog = string(m[1])
		data = data[len(m[0]):]
	}
	if xhtml {
		data = expandSelfClosed(data)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	leaves := collectLeaves(doc.Get(0))
	if len(leaves) > 0 {
		segments := make([]string, len(leaves))
		for i, leaf := range leaves {
			segments[i] = leaf.Data
		}

		translated, err := fn(segments)
		if err != nil {
			return nil, err
		}
		if len(translated) != len(segments) {
			return nil, fmt.Errorf("%w: sent %d, received %d", ErrTranslationCount, len(segments), len(translated))
		}
		for i, leaf := range leaves {
			leaf.Data = translated[i]
		}
	}

	normalize(doc, xhtml)

	return serialize(doc, xhtml, prolog)
}

// voidElements are the HTML elements with no end tag. A self-closed
// form of any other element must be expanded before HTML parsing, or
// the parser would treat it as an open tag and reparent its siblings.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true,
	"embed": true, "hr": true, "img": true, "input": true,
	"link": true, "meta": true, "param": true, "source": true,
	"track": true, "wbr": true,
}

// expandSelfClosed rewrites self-closed non-void elements such as
// <a id="x"/> into paired empty elements (<a id="x"></a>). All other
// bytes pass through untouched; on a tokenizer error the input is
// returned as-is and the parser deals with it.
func expandSelfClosed(data []byte) []byte {
	z := html.NewTokenizer(bytes.NewReader(data))
	var buf bytes.Buffer
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				return buf.Bytes()
			}
			return data
		}
		raw := z.Raw()
		if tt == html.SelfClosingTagToken {
			if name, _ := z.TagName(); !voidElements[string(name)] {
				buf.Write(raw[:len(raw)-2])
				buf.WriteString("></")
				buf.Write(name)
				buf.WriteByte('>')
				continue
			}
		}
		buf.Write(raw)
	}
}

// skippedContainers are elements whose text content is never translatable.
var skippedContainers = map[string]bool{
	"script": true,
	"style":  true,
}

// collectLeaves walks the tree in document order and returns every text
// node that is not whitespace-only and not inside a script or style
// element.
func collectLeaves(root *html.Node) []*html.Node {
	var leaves []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedContainers[n.Data] {
			return
		}
		if n.Type == html.TextNode && strings.TrimSpace(n.Data) != "" {
			leaves = append(leaves, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return leaves
}

// normalize restores declarations that reserialization or a translation
// backend may have dropped: the XHTML namespace, a head element, and a
// charset meta as the first head child.
func normalize(doc *goquery.Document, xhtml bool) {
	root := doc.Find("html").First()

	if xhtml {
		if _, ok := root.Attr("xmlns"); !ok {
			root.SetAttr("xmlns", xhtmlNS)
		}
	}

	head := doc.Find("head").First()
	if head.Length() == 0 {
		root.PrependHtml("<head></head>")
		head = doc.Find("head").First()
	}

	if !hasCharsetMeta(head) {
		if xhtml {
			head.PrependHtml(contentType)
		} else {
			head.PrependHtml(metaCharset)
		}
	}
}

// hasCharsetMeta reports whether head already declares a character set,
// either via a charset attribute or an http-equiv Content-Type meta.
func hasCharsetMeta(head *goquery.Selection) bool {
	found := false
	head.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if _, ok := s.Attr("charset"); ok {
			found = true
			return false
		}
		if equiv, ok := s.Attr("http-equiv"); ok && strings.EqualFold(equiv, "Content-Type") {
			found = true
			return false
		}
		return true
	})
	return found
}

// serialize renders the document. XHTML output always carries an XML
// prolog, preferring the original declaration when the input had one;
// HTML output always carries a doctype.
func serialize(doc *goquery.Document, xhtml bool, prolog string) ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc.Get(0)); err != nil {
		return nil, fmt.Errorf("failed to serialize document: %w", err)
	}
	rendered := buf.Bytes()

	if xhtml {
		out := make([]byte, 0, len(prolog)+1+len(rendered))
		out = append(out, prolog...)
		out = append(out, '\n')
		return append(out, rendered...), nil
	}

	if !bytes.HasPrefix(bytes.ToLower(bytes.TrimLeft(rendered, " \t\r\n")), []byte("<!doctype")) {
		// No newline after the doctype: a reparsed doctype node renders
		// without one, and the output must be stable across passes.
		out := make([]byte, 0, len(htmlDoctype)+len(rendered))
		out = append(out, htmlDoctype...)
		return append(out, rendered...), nil
	}
	return rendered, nil
}

// stripBOM removes a leading UTF-8 BOM, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
