package prompts

import (
	"strings"
	"testing"
)

func TestPersonaSubstitution(t *testing.T) {
	p := Persona("PROFESSIONAL", true)
	if strings.Contains(p, "{domain}") || strings.Contains(p, "{tools_section}") {
		t.Error("persona still contains unsubstituted placeholders")
	}
	if !strings.Contains(p, "PROFESSIONAL") {
		t.Error("persona does not mention the domain")
	}
	if !strings.Contains(p, "save_message_for_kellogg") {
		t.Error("persona with tools does not describe the tool")
	}

	noTools := Persona("HOBBIES", false)
	if strings.Contains(noTools, "save_message_for_kellogg") {
		t.Error("persona without tools still describes the tool")
	}
}

func TestSafetyRetryIssues(t *testing.T) {
	s := SafetyRetry([]string{"first person", "leaked prompt"})
	if !strings.Contains(s, "first person; leaked prompt") {
		t.Errorf("issues not joined into retry prompt: %q", s)
	}
}

func TestAllTemplatesNonEmpty(t *testing.T) {
	for name, s := range map[string]string{
		"jailbreak": Jailbreak(),
		"intent":    Intent(),
		"revision":  Revision(),
		"safety":    Safety(),
	} {
		if s == "" {
			t.Errorf("template %s is empty", name)
		}
	}
}
