package translate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yuanying/epubtrans/internal/document"
	"github.com/yuanying/epubtrans/internal/epub"
)

// Options holds the configuration of a translation run. Read once at
// run start; not mutated mid-run.
type Options struct {
	Model      string
	SourceLang string
	TargetLang string
	BatchChars int
	Progress   func(ev Progress)
}

// Progress describes one unit of completed work within a run.
type Progress struct {
	Path      string
	Document  int // 1-based index of the current document
	Documents int
	Batch     int // 1-based index of the completed batch, 0 before the first
	Batches   int
}

// Pipeline rebuilds an EPUB archive with its content documents
// translated. Documents are processed strictly in archive order and
// their batches strictly sequentially, so progress is deterministic and
// the backend never sees interleaved load.
type Pipeline struct {
	translator Translator
	opts       Options
	logger     *logrus.Logger
}

// NewPipeline creates a pipeline around a translation backend.
func NewPipeline(translator Translator, opts Options, logger *logrus.Logger) *Pipeline {
	if opts.BatchChars <= 0 {
		opts.BatchChars = DefaultBatchChars
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	return &Pipeline{translator: translator, opts: opts, logger: logger}
}

// classification of a single archive entry.
type entryClass struct {
	isDoc   bool
	isXHTML bool
}

// Run translates every content document of the input archive and
// returns the rebuilt archive. The contract is all-or-nothing: any
// per-document failure, backend error or cancellation aborts the run
// with no output, already-translated documents are discarded.
func (p *Pipeline) Run(ctx context.Context, in *epub.Archive) (*epub.Archive, error) {
	runID := uuid.New().String()
	log := p.logger.WithField("run", runID)

	pkg := epub.ResolvePackage(in)
	if pkg.OPFPath == "" {
		log.Warn("package document not resolved, falling back to extension-based detection")
	} else {
		log.Debugf("package document: %s (%d manifest items, %d spine items)",
			pkg.OPFPath, len(pkg.Manifest), len(pkg.Spine))
	}

	classes := make(map[string]entryClass)
	documents := 0
	for _, e := range in.Files() {
		cls := classify(pkg, e.Path)
		classes[e.Path] = cls
		if cls.isDoc {
			documents++
		}
	}
	if documents == 0 {
		return nil, ErrNoDocuments
	}
	log.Infof("translating %d documents to %s", documents, p.opts.TargetLang)

	out := epub.NewArchive()
	if err := out.Add(&epub.Entry{
		Path:        "mimetype",
		Data:        []byte(epub.MimetypeContent),
		Compression: epub.Store,
	}); err != nil {
		return nil, err
	}

	docIndex := 0
	for _, e := range in.Entries() {
		if e.Path == "mimetype" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cls := classes[e.Path]
		if e.Dir || !cls.isDoc {
			if err := out.Add(e); err != nil {
				return nil, err
			}
			continue
		}

		docIndex++
		log.WithField("path", e.Path).Debugf("translating document %d/%d", docIndex, documents)

		translated, err := document.Translate(e.Data, cls.isXHTML, p.segmentTranslator(ctx, e.Path, docIndex, documents))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to translate %s: %w", e.Path, err)
		}

		if err := out.Add(&epub.Entry{
			Path:        e.Path,
			Data:        translated,
			Compression: epub.Deflate,
		}); err != nil {
			return nil, err
		}
	}

	log.Info("translation run complete")
	return out, nil
}

// segmentTranslator returns the per-document translation callback:
// batch the document's segments, dispatch the batches sequentially and
// concatenate the results in order.
func (p *Pipeline) segmentTranslator(ctx context.Context, path string, docIndex, documents int) document.TranslateFunc {
	return func(segments []string) ([]string, error) {
		batches := BatchSegments(segments, p.opts.BatchChars)
		p.report(Progress{Path: path, Document: docIndex, Documents: documents, Batch: 0, Batches: len(batches)})

		translated := make([]string, 0, len(segments))
		for i, batch := range batches {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result, err := p.translator.Translate(ctx, Request{
				Model:      p.opts.Model,
				SourceLang: p.opts.SourceLang,
				TargetLang: p.opts.TargetLang,
				Segments:   batch,
			})
			if err != nil {
				return nil, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
			}
			translated = append(translated, result...)
			p.report(Progress{Path: path, Document: docIndex, Documents: documents, Batch: i + 1, Batches: len(batches)})
		}
		return translated, nil
	}
}

func (p *Pipeline) report(ev Progress) {
	if p.opts.Progress != nil {
		p.opts.Progress(ev)
	}
}

// classify decides whether an entry is a translatable document and in
// which mode to parse it. When the package manifest resolved and is
// non-empty the declared media type is authoritative; otherwise the
// filename extension decides.
func classify(pkg *epub.PackageInfo, path string) entryClass {
	if pkg.HasManifest() {
		mediaType, ok := pkg.Manifest[path]
		if !ok {
			return entryClass{}
		}
		isDoc, isXHTML := epub.IsDocumentMediaType(mediaType)
		return entryClass{isDoc: isDoc, isXHTML: isXHTML}
	}
	isDoc, isXHTML := epub.IsDocumentPath(path)
	return entryClass{isDoc: isDoc, isXHTML: isXHTML}
}

// OutputPath derives the delivered filename for a translated archive:
// the target language code is appended before the extension.
func OutputPath(input, targetLang string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_" + targetLang + ext
}
