package contextreg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "professional.md", "Kellogg has ten years of data engineering experience.")
	writeDoc(t, dir, "meta.chat.md", "This chat runs on locally hosted models.")
	writeDoc(t, dir, "meta.faq.md", "Ask about work, projects, or hobbies.")
	writeDoc(t, dir, "notes.json", `{"ignored": true}`)

	reg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	domains := reg.Domains()
	want := []string{"META", "PROFESSIONAL"}
	if len(domains) != len(want) {
		t.Fatalf("domains = %v, want %v", domains, want)
	}
	for i := range want {
		if domains[i] != want[i] {
			t.Fatalf("domains = %v, want %v", domains, want)
		}
	}

	meta := reg.Context("META", 1000)
	if !strings.Contains(meta, "locally hosted models") || !strings.Contains(meta, "work, projects, or hobbies") {
		t.Errorf("META context missing documents: %q", meta)
	}
	if !strings.Contains(meta, "---") {
		t.Error("multi-document context missing separator")
	}
}

func TestLoadEmptyDirFails(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for empty docs dir")
	}
}

func TestContextTokenBudget(t *testing.T) {
	reg := NewFromDocs(map[string][]Document{
		"PROJECTS": {
			{Name: "a", Text: strings.Repeat("alpha ", 100)}, // ~150 tokens
			{Name: "b", Text: strings.Repeat("beta ", 100)},
		},
	})

	// Budget fits only the first document; cut is document-aligned.
	got := reg.Context("PROJECTS", 200)
	if !strings.Contains(got, "alpha") {
		t.Error("first document missing")
	}
	if strings.Contains(got, "beta") {
		t.Error("second document should have been dropped by the budget")
	}

	// A lone over-budget document is truncated, not dropped.
	got = reg.Context("PROJECTS", 10)
	if got == "" {
		t.Error("over-budget single document should be truncated, not empty")
	}
}

func TestContextUnknownDomain(t *testing.T) {
	reg := NewFromDocs(map[string][]Document{"HOBBIES": {{Name: "h", Text: "climbing"}}})
	if got := reg.Context("OUT_OF_SCOPE", 100); got != "" {
		t.Errorf("unknown domain context = %q, want empty", got)
	}
}

func TestProviderReloadSwapsAtomically(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "hobbies.md", "climbing")

	p, err := NewProvider(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := p.Current()
	if before.Context("HOBBIES", 100) != "climbing" {
		t.Fatal("initial registry wrong")
	}

	writeDoc(t, dir, "hobbies.md", "climbing and woodworking")
	if err := p.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// The old snapshot is untouched; the new one has the new text.
	if before.Context("HOBBIES", 100) != "climbing" {
		t.Error("old snapshot mutated by reload")
	}
	if !strings.Contains(p.Current().Context("HOBBIES", 100), "woodworking") {
		t.Error("new snapshot missing reloaded text")
	}
}
