package epub

import (
	"encoding/xml"
	"net/url"
	"path"
	"strings"
)

// ContainerPath is the fixed location of the EPUB container descriptor.
const ContainerPath = "META-INF/container.xml"

// Media types consulted when classifying content documents.
const (
	MediaTypeXHTML = "application/xhtml+xml"
	MediaTypeHTML  = "text/html"
)

// PackageInfo is the resolved structural view of an EPUB: the package
// document location, the manifest keyed by resolved path, and the spine
// as an ordered list of resolved paths.
//
// Resolution is best-effort. A missing or malformed container or
// package document yields a partial (possibly empty) PackageInfo, never
// an error: callers degrade to extension-based document detection.
type PackageInfo struct {
	OPFPath       string            // empty when the container could not be resolved
	Manifest      map[string]string // resolved path -> declared media type
	ManifestPaths []string          // manifest paths in document order, deduplicated
	Spine         []string          // resolved paths in reading order
}

// HasManifest reports whether package resolution produced a usable manifest.
func (p *PackageInfo) HasManifest() bool {
	return len(p.Manifest) > 0
}

// container.xml structure. Some producers emit a camel-case fullPath
// attribute instead of the standard full-path; both are accepted.
type containerXML struct {
	Rootfiles struct {
		Rootfile []struct {
			FullPath    string `xml:"full-path,attr"`
			FullPathAlt string `xml:"fullPath,attr"`
		} `xml:"rootfile"`
	} `xml:"rootfiles"`
}

// opfPackage represents the parts of the OPF XML consulted for resolution.
type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

// ResolvePackage reads the container descriptor and package document of
// an archive and builds the manifest and spine. Unresolvable spine
// references and hrefs escaping the archive root are dropped silently.
func ResolvePackage(a *Archive) *PackageInfo {
	info := &PackageInfo{Manifest: make(map[string]string)}

	opfPath, ok := resolveOPFPath(a)
	if !ok {
		return info
	}
	info.OPFPath = opfPath

	opfData, err := a.ReadFile(opfPath)
	if err != nil {
		return info
	}

	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return info
	}

	opfDir := path.Dir(opfPath)
	idToPath := make(map[string]string)
	for _, item := range pkg.Manifest.Items {
		if item.Href == "" {
			continue
		}
		resolved, ok := resolveHref(opfDir, item.Href)
		if !ok {
			continue
		}
		if _, seen := info.Manifest[resolved]; !seen {
			info.ManifestPaths = append(info.ManifestPaths, resolved)
		}
		info.Manifest[resolved] = item.MediaType
		if item.ID != "" {
			idToPath[item.ID] = resolved
		}
	}

	for _, ref := range pkg.Spine.ItemRefs {
		if p, ok := idToPath[ref.IDRef]; ok {
			info.Spine = append(info.Spine, p)
		}
	}

	return info
}

// resolveOPFPath parses the container descriptor and returns the
// package document path, or false when it cannot be determined.
func resolveOPFPath(a *Archive) (string, bool) {
	data, err := a.ReadFile(ContainerPath)
	if err != nil {
		return "", false
	}

	var c containerXML
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", false
	}

	for _, rf := range c.Rootfiles.Rootfile {
		full := rf.FullPath
		if full == "" {
			full = rf.FullPathAlt
		}
		if full == "" {
			continue
		}
		p := normalizePath(full)
		if p != "" && isSafePath(p) {
			return p, true
		}
	}
	return "", false
}

// resolveHref resolves a manifest href against the package document's
// directory. Pure lexical resolution; a result escaping the archive
// root is rejected.
func resolveHref(opfDir, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return "", false
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	// Strip fragment, hrefs like "chapter.xhtml#sec1" refer to the file.
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	joined := path.Clean(path.Join(opfDir, href))
	if !isSafePath(joined) {
		return "", false
	}
	return normalizePath(joined), true
}

// IsDocumentMediaType reports whether a declared media type marks a
// translatable content document, and whether it should be parsed as XHTML.
func IsDocumentMediaType(mediaType string) (isDoc, isXHTML bool) {
	switch mediaType {
	case MediaTypeXHTML:
		return true, true
	case MediaTypeHTML:
		return true, false
	}
	return false, false
}

// IsDocumentPath classifies an entry path by extension, used when the
// package manifest is absent or empty.
func IsDocumentPath(p string) (isDoc, isXHTML bool) {
	switch strings.ToLower(path.Ext(p)) {
	case ".xhtml":
		return true, true
	case ".html", ".htm":
		return true, false
	}
	return false, false
}
