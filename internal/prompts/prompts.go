// Package prompts holds the model prompt templates as embedded data.
// Templating is plain string substitution of {domain}, {tools_section}, and
// {issues} placeholders — templates are data, not code.
package prompts

import (
	"embed"
	"strings"
)

//go:embed templates/*.md
var templates embed.FS

// load returns the named template. Templates are compiled into the binary,
// so a missing name is a programming error and panics at init-time use.
func load(name string) string {
	b, err := templates.ReadFile("templates/" + name + ".md")
	if err != nil {
		panic("prompts: missing embedded template " + name)
	}
	return strings.TrimSpace(string(b))
}

var (
	persona     = load("persona")
	tools       = load("tools")
	jailbreak   = load("jailbreak")
	intent      = load("intent")
	revision    = load("revision")
	safety      = load("safety")
	safetyRetry = load("safety_retry")
)

// Persona renders the generation system prompt for a domain. When withTools
// is false the tool section is replaced by an empty string, which removes
// the tool affordance from the model entirely.
func Persona(domain string, withTools bool) string {
	section := ""
	if withTools {
		section = tools
	}
	s := strings.ReplaceAll(persona, "{domain}", domain)
	return strings.TrimSpace(strings.ReplaceAll(s, "{tools_section}", section))
}

// Jailbreak returns the L2 classifier system prompt.
func Jailbreak() string { return jailbreak }

// Intent returns the combined intent/domain system prompt.
func Intent() string { return intent }

// Revision returns the L7 revision-checker system prompt.
func Revision() string { return revision }

// Safety returns the L8 output-safety system prompt.
func Safety() string { return safety }

// SafetyRetry renders the reinforced regeneration instruction with the
// issues the safety check flagged.
func SafetyRetry(issues []string) string {
	return strings.ReplaceAll(safetyRetry, "{issues}", strings.Join(issues, "; "))
}
