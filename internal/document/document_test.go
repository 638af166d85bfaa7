package document

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// identity returns segments unchanged.
func identity(segments []string) ([]string, error) {
	return segments, nil
}

// recorded wraps a TranslateFunc, capturing the segments it receives.
func recorded(fn TranslateFunc) (TranslateFunc, *[][]string) {
	var calls [][]string
	return func(segments []string) ([]string, error) {
		calls = append(calls, segments)
		return fn(segments)
	}, &calls
}

func TestTranslate_OrderPreservation(t *testing.T) {
	input := []byte(`<html><head><title>Title</title></head><body>
<p>First paragraph.</p>
<div><span>Second</span> and <em>third</em></div>
</body></html>`)

	fn, calls := recorded(func(segments []string) ([]string, error) {
		out := make([]string, len(segments))
		for i, s := range segments {
			out[i] = "«" + s + "»"
		}
		return out, nil
	})

	result, err := Translate(input, false, fn)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	if len(*calls) != 1 {
		t.Fatalf("translate callback called %d times, want 1", len(*calls))
	}
	want := []string{"Title", "First paragraph.", "Second", " and ", "third"}
	got := (*calls)[0]
	if len(got) != len(want) {
		t.Fatalf("segments = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segments[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Every translation lands in its leaf position, in order.
	out := string(result)
	last := -1
	for _, s := range want {
		idx := strings.Index(out, "«"+s+"»")
		if idx < 0 {
			t.Fatalf("translated segment %q not found in output:\n%s", s, out)
		}
		if idx < last {
			t.Errorf("segment %q appears out of order", s)
		}
		last = idx
	}
}

func TestTranslate_SkipsScriptStyleAndWhitespace(t *testing.T) {
	input := []byte(`<html><head>
<style>p { color: red; }</style>
<script>var x = "not text";</script>
</head><body>
<p>   </p>
<p>Real text</p>
</body></html>`)

	fn, calls := recorded(identity)
	if _, err := Translate(input, false, fn); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	got := (*calls)[0]
	if len(got) != 1 || got[0] != "Real text" {
		t.Errorf("segments = %q, want only %q", got, "Real text")
	}
}

func TestTranslate_NoLeavesIsNoop(t *testing.T) {
	input := []byte(`<html><head><style>p{}</style></head><body><p>  </p></body></html>`)

	called := false
	_, err := Translate(input, false, func(segments []string) ([]string, error) {
		called = true
		return segments, nil
	})
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if called {
		t.Error("translate callback invoked for a document with no leaves")
	}
}

func TestTranslate_CountMismatch(t *testing.T) {
	input := []byte(`<html><body><p>One</p><p>Two</p><p>Three</p></body></html>`)

	_, err := Translate(input, false, func(segments []string) ([]string, error) {
		return segments[:2], nil
	})
	if !errors.Is(err, ErrTranslationCount) {
		t.Errorf("error = %v, want ErrTranslationCount", err)
	}
}

func TestTranslate_CallbackErrorPropagates(t *testing.T) {
	input := []byte(`<html><body><p>One</p></body></html>`)
	backendErr := errors.New("backend down")

	_, err := Translate(input, false, func(segments []string) ([]string, error) {
		return nil, backendErr
	})
	if !errors.Is(err, backendErr) {
		t.Errorf("error = %v, want %v", err, backendErr)
	}
}

func TestTranslate_XHTMLNormalization(t *testing.T) {
	// No prolog, no xmlns, no charset meta.
	input := []byte(`<html><head><title>T</title></head><body><p>Hello</p></body></html>`)

	result, err := Translate(input, true, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if !strings.HasPrefix(out, `<?xml version="1.0" encoding="utf-8"?>`) {
		t.Errorf("output lacks XML prolog:\n%s", out)
	}
	if !strings.Contains(out, `xmlns="http://www.w3.org/1999/xhtml"`) {
		t.Errorf("output lacks XHTML namespace:\n%s", out)
	}
	meta := strings.Index(out, `http-equiv="Content-Type"`)
	title := strings.Index(out, "<title>")
	if meta < 0 {
		t.Fatalf("output lacks Content-Type meta:\n%s", out)
	}
	if title >= 0 && meta > title {
		t.Error("Content-Type meta is not the first head child")
	}
}

func TestTranslate_XHTMLKeepsExistingDeclarations(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head>
<meta http-equiv="Content-Type" content="text/html; charset=utf-8"/>
<title>T</title></head><body><p>Hello</p></body></html>`)

	result, err := Translate(input, true, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if n := strings.Count(out, "<?xml"); n != 1 {
		t.Errorf("prolog count = %d, want 1", n)
	}
	if n := strings.Count(out, `http-equiv="Content-Type"`); n != 1 {
		t.Errorf("Content-Type meta count = %d, want 1", n)
	}
	if n := strings.Count(out, "xmlns="); n != 1 {
		t.Errorf("xmlns count = %d, want 1", n)
	}
}

func TestTranslate_XHTMLSelfClosedElements(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>T</title></head><body>
<p>Before</p><a id="anchor"/><p>After</p>
<div class="sep"/>
<p>Tail with a<br/>break</p>
</body></html>`)

	result, err := Translate(input, true, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if !strings.Contains(out, `<a id="anchor"></a>`) {
		t.Errorf("self-closed anchor not kept as an empty element:\n%s", out)
	}
	if strings.Contains(out, `<a id="anchor"><p>`) {
		t.Errorf("self-closed anchor absorbed its following sibling:\n%s", out)
	}
	if !strings.Contains(out, `<div class="sep"></div>`) {
		t.Errorf("self-closed div not kept as an empty element:\n%s", out)
	}
	anchor := strings.Index(out, `</a>`)
	after := strings.Index(out, "<p>After</p>")
	if after < 0 || anchor < 0 || after < anchor {
		t.Errorf("sibling order disturbed around the anchor:\n%s", out)
	}
	// Void elements keep their self-closing form.
	if !strings.Contains(out, "<br/>") {
		t.Errorf("br not rendered self-closed:\n%s", out)
	}
}

func TestTranslate_XHTMLEntities(t *testing.T) {
	input := []byte(`<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>T</title></head><body>
<p>Fish &amp; chips&nbsp;twice</p>
</body></html>`)

	fn, calls := recorded(identity)
	result, err := Translate(input, true, fn)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	got := (*calls)[0]
	if want := "Fish & chips\u00a0twice"; got[1] != want {
		t.Errorf("segment = %q, want %q", got[1], want)
	}
	out := string(result)
	if !strings.Contains(out, "Fish &amp; chips") {
		t.Errorf("ampersand not re-escaped on output:\n%s", out)
	}
	if !strings.Contains(out, "chips\u00a0twice") {
		t.Errorf("non-breaking space lost:\n%s", out)
	}
}

func TestTranslate_PreservesOriginalProlog(t *testing.T) {
	const prolog = `<?xml version="1.0" encoding="UTF-8"?>`
	input := []byte(prolog + `
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>T</title></head><body><p>Hi</p></body></html>`)

	result, err := Translate(input, true, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if !strings.HasPrefix(out, prolog) {
		t.Errorf("original XML declaration not preserved:\n%s", out)
	}
	if n := strings.Count(out, "<?xml"); n != 1 {
		t.Errorf("prolog count = %d, want 1", n)
	}
}

func TestTranslate_HTMLNormalization(t *testing.T) {
	input := []byte(`<html><head><title>T</title></head><body><p>Hello</p></body></html>`)

	result, err := Translate(input, false, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if !strings.HasPrefix(strings.ToLower(out), "<!doctype") {
		t.Errorf("output lacks doctype:\n%s", out)
	}
	if !strings.Contains(out, `<meta charset="utf-8"/>`) {
		t.Errorf("output lacks charset meta:\n%s", out)
	}
}

func TestTranslate_HTMLKeepsExistingDoctype(t *testing.T) {
	input := []byte(`<!DOCTYPE html>
<html><head><meta charset="utf-8"/><title>T</title></head><body><p>Hello</p></body></html>`)

	result, err := Translate(input, false, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	out := string(result)
	if n := strings.Count(strings.ToLower(out), "<!doctype"); n != 1 {
		t.Errorf("doctype count = %d, want 1", n)
	}
	if n := strings.Count(out, "charset"); n != 1 {
		t.Errorf("charset meta count = %d, want 1", n)
	}
}

func TestTranslate_Idempotent(t *testing.T) {
	inputs := map[string]struct {
		data  []byte
		xhtml bool
	}{
		"xhtml": {[]byte(`<html><head><title>T</title></head><body><p>Hello</p></body></html>`), true},
		"html":  {[]byte(`<html><body><p>Hello</p></body></html>`), false},
	}

	for name, tt := range inputs {
		t.Run(name, func(t *testing.T) {
			first, err := Translate(tt.data, tt.xhtml, identity)
			if err != nil {
				t.Fatalf("first Translate failed: %v", err)
			}
			second, err := Translate(first, tt.xhtml, identity)
			if err != nil {
				t.Fatalf("second Translate failed: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Errorf("not idempotent:\nfirst:  %s\nsecond: %s", first, second)
			}
		})
	}
}

func TestTranslate_StripsBOM(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`<html><body><p>Hi</p></body></html>`)...)

	result, err := Translate(input, false, identity)
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if bytes.HasPrefix(result, []byte{0xEF, 0xBB, 0xBF}) {
		t.Error("BOM survived reserialization")
	}
}
