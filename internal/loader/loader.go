// Package loader extracts cleaned, page-numbered text from documents on disk.
package loader

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"docrag/internal/apperr"
	"docrag/internal/domain"
)

// FileType is the document format, derived from the file extension.
type FileType string

const (
	FileTypePDF     FileType = "pdf"
	FileTypeMD      FileType = "md"
	FileTypeHTML    FileType = "html"
	FileTypeTXT     FileType = "txt"
	FileTypeUnknown FileType = "unknown"
)

// FileTypeFromPath maps a path's extension to its FileType.
func FileTypeFromPath(path string) FileType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "pdf":
		return FileTypePDF
	case "md", "markdown":
		return FileTypeMD
	case "html", "htm":
		return FileTypeHTML
	case "txt":
		return FileTypeTXT
	default:
		return FileTypeUnknown
	}
}

// PageParser returns the raw, uncleaned text of each page of a file.
// Raw page i has number i+1.
type PageParser func(path string) ([]string, error)

// Loader dispatches files to the parser registered for their type.
type Loader struct {
	parsers map[FileType]PageParser
}

// New returns a Loader with the txt, markdown, html and pdf parsers registered.
func New() *Loader {
	l := &Loader{parsers: make(map[FileType]PageParser)}
	l.Register(FileTypeTXT, parsePlain)
	l.Register(FileTypeMD, parsePlain)
	l.Register(FileTypeHTML, parseHTML)
	l.Register(FileTypePDF, parsePDF)
	return l
}

// Register sets the parser for a file type.
func (l *Loader) Register(ft FileType, p PageParser) {
	l.parsers[ft] = p
}

// Supported reports whether path has a registered parser.
func (l *Loader) Supported(path string) bool {
	_, ok := l.parsers[FileTypeFromPath(path)]
	return ok
}

// Extensions lists the registered file types.
func (l *Loader) Extensions() []string {
	out := make([]string, 0, len(l.parsers))
	for ft := range l.parsers {
		out = append(out, string(ft))
	}
	sort.Strings(out)
	return out
}

// LoadPages returns the non-empty cleaned pages of path in page order.
func (l *Loader) LoadPages(path string) ([]domain.Page, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFoundf("load", "file not found: %s", path)
		}
		return nil, apperr.NewError("stat", err)
	}
	if st.IsDir() {
		return nil, apperr.Invalid("load", "%s is a directory", path)
	}
	parse, ok := l.parsers[FileTypeFromPath(path)]
	if !ok {
		return nil, apperr.Wrap(apperr.InvalidArgument, "load "+filepath.Ext(path), apperr.ErrUnsupportedExtension)
	}
	raw, err := parse(path)
	if err != nil {
		return nil, apperr.Upstream("parse "+filepath.Base(path), err)
	}
	var pages []domain.Page
	for i, text := range raw {
		cleaned := CleanText(text)
		if cleaned == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: cleaned})
	}
	return pages, nil
}

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// CleanText normalises line endings, unwraps lines inside each paragraph and
// collapses whitespace. Paragraphs are separated by one blank line.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var paras []string
	for _, p := range paragraphSplit.Split(text, -1) {
		p = strings.TrimSpace(spaceRun.ReplaceAllString(p, " "))
		if p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}

func parsePlain(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}
