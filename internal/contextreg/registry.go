// Package contextreg holds the static context documents injected into
// generation prompts, keyed by domain. Documents are loaded from a directory
// at process start and are immutable afterwards; hot reload, when enabled,
// builds a fresh registry from disk and swaps the whole thing atomically, so
// readers see either the old snapshot or the new one, never a mix.
package contextreg

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// docSeparator delimits documents in an assembled context blob.
const docSeparator = "\n\n---\n\n"

// Document is one static context file.
type Document struct {
	// Name is the file base name without extension, e.g. "professional".
	Name string

	// Text is the file content, trimmed.
	Text string
}

// Registry maps a domain name (upper-case, e.g. "PROFESSIONAL") to its
// documents. A Registry is immutable after [Load]; share it freely.
type Registry struct {
	docs map[string][]Document
}

// Load builds a Registry from every *.md and *.txt file in dir. The file
// base name, upper-cased, is the domain it serves; multiple files may serve
// one domain via a "domain.suffix.md" naming scheme ("meta.chat.md" and
// "meta.faq.md" both feed META). Files are attached in lexical order.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("contextreg: read dir %q: %w", dir, err)
	}

	docs := make(map[string][]Document)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".md" && ext != ".txt" {
			continue
		}
		base := strings.TrimSuffix(name, ext)
		domain := strings.ToUpper(strings.SplitN(base, ".", 2)[0])

		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("contextreg: read %q: %w", name, err)
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			continue
		}
		docs[domain] = append(docs[domain], Document{Name: base, Text: text})
	}

	for domain := range docs {
		sort.Slice(docs[domain], func(i, j int) bool {
			return docs[domain][i].Name < docs[domain][j].Name
		})
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("contextreg: no context documents found in %q", dir)
	}
	return &Registry{docs: docs}, nil
}

// NewFromDocs builds a Registry directly from in-memory documents, keyed by
// domain name. Used by tests and by callers that assemble documents
// themselves.
func NewFromDocs(docs map[string][]Document) *Registry {
	copied := make(map[string][]Document, len(docs))
	for k, v := range docs {
		copied[k] = append([]Document(nil), v...)
	}
	return &Registry{docs: copied}
}

// Domains returns the sorted list of domains the registry can serve.
func (r *Registry) Domains() []string {
	out := make([]string, 0, len(r.docs))
	for d := range r.docs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Context assembles the context blob for a domain, concatenating its
// documents with separators. The result is bounded by maxTokens using a
// document-boundary-aligned policy: whole documents are appended in order
// until the next one would exceed the budget; a lone over-budget first
// document is truncated on a line boundary so the blob is never empty for a
// domain that has material.
func (r *Registry) Context(domain string, maxTokens int) string {
	docs := r.docs[strings.ToUpper(domain)]
	if len(docs) == 0 {
		return ""
	}

	var parts []string
	used := 0
	for _, d := range docs {
		cost := llm.EstimateTextTokens(d.Text)
		if used+cost > maxTokens {
			if len(parts) == 0 {
				parts = append(parts, truncateLines(d.Text, maxTokens))
			}
			break
		}
		parts = append(parts, d.Text)
		used += cost
	}
	return strings.Join(parts, docSeparator)
}

// truncateLines cuts text to roughly maxTokens, dropping trailing lines so
// the cut lands on a line boundary.
func truncateLines(text string, maxTokens int) string {
	lines := strings.Split(text, "\n")
	var kept []string
	used := 0
	for _, line := range lines {
		cost := llm.EstimateTextTokens(line)
		if used+cost > maxTokens {
			break
		}
		kept = append(kept, line)
		used += cost
	}
	if len(kept) == 0 && len(lines) > 0 {
		// A single enormous line: hard-cut at the character budget.
		limit := maxTokens * 4
		if limit < len(lines[0]) {
			return lines[0][:limit]
		}
		return lines[0]
	}
	return strings.Join(kept, "\n")
}
