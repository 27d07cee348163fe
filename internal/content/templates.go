package content

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	TemplateGenerateTweet      = "GenerateTweet.txt"
	TemplateGenerateNextAction = "GenerateNextAction.txt"

	placeholderAgent   = "[[flattenedAgent]]"
	placeholderHistory = "[[history]]"
)

// TemplateStore loads prompt templates by name.
type TemplateStore interface {
	Load(name string) (string, error)
}

// DirStore reads templates from a directory on each call, so edits apply to the next step.
type DirStore struct {
	Dir string
}

func (d DirStore) Load(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	b, err := os.ReadFile(filepath.Join(d.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// MapStore serves templates from memory.
type MapStore map[string]string

func (m MapStore) Load(name string) (string, error) {
	t, ok := m[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	return t, nil
}

// render substitutes placeholders line by line and joins the lines with a single space.
// Blank lines are dropped. Substituted values are never rescanned for placeholders.
func render(tmpl string, r *strings.Replacer) string {
	lines := strings.Split(strings.ReplaceAll(tmpl, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = r.Replace(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
