// Package compare checks two EPUB archives for structural equivalence:
// entry inventory, mimetype placement, package document location,
// manifest membership and media types, and spine order.
package compare

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuanying/epubtrans/internal/epub"
)

// previewLimit caps how many paths a single finding lists before a
// truncation marker.
const previewLimit = 10

// Report is the outcome of one comparison. It is empty if and only if
// the two archives are structurally equivalent by every check.
type Report struct {
	Differences []string
}

// Empty reports whether no differences were found.
func (r *Report) Empty() bool {
	return len(r.Differences) == 0
}

func (r *Report) addf(format string, args ...any) {
	r.Differences = append(r.Differences, fmt.Sprintf(format, args...))
}

// Compare resolves package information for both archives independently
// and reports every structural divergence. All checks are additive; a
// failure in one never suppresses the others.
func Compare(orig, trans *epub.Archive) *Report {
	r := &Report{}

	compareInventory(r, orig, trans)
	compareMimetype(r, orig, "original")
	compareMimetype(r, trans, "translated")

	pkgO := epub.ResolvePackage(orig)
	pkgT := epub.ResolvePackage(trans)

	if pkgO.OPFPath != pkgT.OPFPath {
		r.addf("package document path differs: %q vs %q", pkgO.OPFPath, pkgT.OPFPath)
	}

	if pkgO.HasManifest() && pkgT.HasManifest() {
		compareManifests(r, pkgO, pkgT)
		compareSpines(r, pkgO, pkgT)
	}

	checkManifestTargets(r, orig, pkgO, "original")
	checkManifestTargets(r, trans, pkgT, "translated")
	compareVerbatimEntries(r, orig, trans)

	return r
}

// compareInventory checks entry counts and the symmetric difference of
// file path sets.
func compareInventory(r *Report, orig, trans *epub.Archive) {
	if len(orig.Entries()) != len(trans.Entries()) {
		r.addf("entry count differs: %d vs %d", len(orig.Entries()), len(trans.Entries()))
	}

	filesO := pathSet(orig)
	filesT := pathSet(trans)
	if len(filesO) != len(filesT) {
		r.addf("file count differs (directories excluded): %d vs %d", len(filesO), len(filesT))
	}

	if missing := diffSorted(filesO, filesT); len(missing) > 0 {
		r.addf("missing in translated: %s", preview(missing))
	}
	if extra := diffSorted(filesT, filesO); len(extra) > 0 {
		r.addf("extra in translated: %s", preview(extra))
	}
}

// compareMimetype validates the mimetype entry of a single archive:
// present, exact content, first among files, stored uncompressed.
func compareMimetype(r *Report, a *epub.Archive, label string) {
	mt, ok := a.File("mimetype")
	if !ok {
		r.addf("%s: mimetype entry missing", label)
		return
	}
	if string(mt.Data) != epub.MimetypeContent {
		r.addf("%s: mimetype content is %q, want %q", label, mt.Data, epub.MimetypeContent)
	}
	files := a.Files()
	if len(files) == 0 || files[0].Path != "mimetype" {
		r.addf("%s: mimetype entry is not first", label)
	}
	if mt.Compression != epub.Store {
		r.addf("%s: mimetype entry is compressed", label)
	}
}

// compareManifests checks manifest membership and, for common paths,
// declared media types.
func compareManifests(r *Report, pkgO, pkgT *epub.PackageInfo) {
	setO := make(map[string]bool, len(pkgO.Manifest))
	for p := range pkgO.Manifest {
		setO[p] = true
	}
	setT := make(map[string]bool, len(pkgT.Manifest))
	for p := range pkgT.Manifest {
		setT[p] = true
	}

	if missing := diffSorted(setO, setT); len(missing) > 0 {
		r.addf("manifest missing in translated: %s", preview(missing))
	}
	if extra := diffSorted(setT, setO); len(extra) > 0 {
		r.addf("manifest extra in translated: %s", preview(extra))
	}

	var common []string
	for p := range setO {
		if setT[p] {
			common = append(common, p)
		}
	}
	sort.Strings(common)
	for _, p := range common {
		if pkgO.Manifest[p] != pkgT.Manifest[p] {
			r.addf("media type differs for %s: %q vs %q", p, pkgO.Manifest[p], pkgT.Manifest[p])
		}
	}
}

// compareSpines checks spine length and reports only the first position
// where reading order diverges.
func compareSpines(r *Report, pkgO, pkgT *epub.PackageInfo) {
	if len(pkgO.Spine) != len(pkgT.Spine) {
		r.addf("spine length differs: %d vs %d", len(pkgO.Spine), len(pkgT.Spine))
	}
	n := min(len(pkgO.Spine), len(pkgT.Spine))
	for i := 0; i < n; i++ {
		if pkgO.Spine[i] != pkgT.Spine[i] {
			r.addf("spine order diverges at index %d: %q vs %q", i, pkgO.Spine[i], pkgT.Spine[i])
			return
		}
	}
}

// checkManifestTargets reports manifest entries pointing at files that
// do not exist in their own archive.
func checkManifestTargets(r *Report, a *epub.Archive, pkg *epub.PackageInfo, label string) {
	var missing []string
	for _, p := range pkg.ManifestPaths {
		if _, ok := a.File(p); !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		r.addf("%s: manifest references missing files: %s", label, preview(missing))
	}
}

// compareVerbatimEntries reports common non-document entries whose
// bytes changed. Everything that is not an HTML/XHTML document should
// have been copied verbatim by a translation run.
func compareVerbatimEntries(r *Report, orig, trans *epub.Archive) {
	var changed []string
	for _, e := range orig.Files() {
		if e.Path == "mimetype" || isDocumentExt(e.Path) {
			continue
		}
		other, ok := trans.File(e.Path)
		if !ok {
			continue
		}
		if !bytes.Equal(e.Data, other.Data) {
			changed = append(changed, e.Path)
		}
	}
	if len(changed) > 0 {
		sort.Strings(changed)
		r.addf("non-document content changed: %s", preview(changed))
	}
}

func isDocumentExt(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".html") ||
		strings.HasSuffix(lower, ".htm") ||
		strings.HasSuffix(lower, ".xhtml")
}

func pathSet(a *epub.Archive) map[string]bool {
	set := make(map[string]bool)
	for _, e := range a.Files() {
		set[e.Path] = true
	}
	return set
}

// diffSorted returns the sorted elements of a not present in b.
func diffSorted(a, b map[string]bool) []string {
	var out []string
	for p := range a {
		if !b[p] {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// preview joins up to previewLimit paths, appending a truncation marker
// when more were found.
func preview(paths []string) string {
	if len(paths) <= previewLimit {
		return strings.Join(paths, ", ")
	}
	return strings.Join(paths[:previewLimit], ", ") + " ..."
}
