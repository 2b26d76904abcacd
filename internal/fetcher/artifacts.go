package fetcher

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

const maxPathRunes = 80

// Names of the run-level artifacts.
const (
	CombinedFile = "_combined.txt"
	AnswerFile   = "_answer.txt"
)

// ArtifactWriter saves raw and cleaned pages of one run for debugging.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter creates root/runID and returns a writer for it.
func NewArtifactWriter(root, runID string) (*ArtifactWriter, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fetcher: create artifacts dir %s", dir)
	}
	return &ArtifactWriter{dir: dir}, nil
}

// Dir returns the run directory.
func (w *ArtifactWriter) Dir() string { return w.dir }

// WritePage saves the raw body as .html and, when non-empty, the cleaned
// text as .txt.
func (w *ArtifactWriter) WritePage(index int, pageURL string, raw []byte, text string) error {
	base := filepath.Join(w.dir, ArtifactName(index, pageURL))
	if err := os.WriteFile(base+".html", raw, 0o644); err != nil {
		return eris.Wrap(err, "fetcher: write html artifact")
	}
	if text == "" {
		return nil
	}
	if err := os.WriteFile(base+".txt", []byte(text), 0o644); err != nil {
		return eris.Wrap(err, "fetcher: write text artifact")
	}
	return nil
}

// WriteFile saves a run-level artifact such as the combined corpus.
func (w *ArtifactWriter) WriteFile(name, content string) error {
	if err := os.WriteFile(filepath.Join(w.dir, safeName(name)), []byte(content), 0o644); err != nil {
		return eris.Wrapf(err, "fetcher: write %s", name)
	}
	return nil
}

// ArtifactName builds the file stem NN_host_path for a page, where NN is
// the one-based link position.
func ArtifactName(index int, pageURL string) string {
	host, path := "site", ""
	if u, err := url.Parse(pageURL); err == nil {
		if u.Host != "" {
			host = u.Host
		}
		path = u.Path
	}
	host = strings.ReplaceAll(host, ":", "_")

	path = strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
	if path == "" {
		path = "index"
	}
	if r := []rune(path); len(r) > maxPathRunes {
		path = string(r[:maxPathRunes])
	}

	return safeName(fmt.Sprintf("%02d_%s_%s", index+1, host, path))
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`<>:"/\|?*`, r):
			return '_'
		}
		return r
	}, s)
}
