// Package pipeline implements the staged request processor at the heart of
// the gateway: ten ordered stages (L0–L9) that validate, classify, route,
// retrieve, generate, revise, and safety-check every chat request. Each
// stage assumes the previous one failed, uses the cheapest model capable of
// its decision, and either refines the request or terminates it with a
// canned refusal. The orchestrator owns the request for its lifetime;
// stages never raise through it, and any ambiguity resolves to the more
// restrictive outcome.
package pipeline

import "strings"

// Domain is the coarse topic class that selects which static context is
// injected into generation.
type Domain string

// The closed set of domains.
const (
	DomainProfessional Domain = "PROFESSIONAL"
	DomainProjects     Domain = "PROJECTS"
	DomainHobbies      Domain = "HOBBIES"
	DomainPhilosophy   Domain = "PHILOSOPHY"
	DomainContact      Domain = "CONTACT"
	DomainMeta         Domain = "META"
	DomainOutOfScope   Domain = "OUT_OF_SCOPE"
)

// ParseDomain clamps an arbitrary string to the domain enum. Unknown values
// become OUT_OF_SCOPE.
func ParseDomain(s string) Domain {
	switch d := Domain(strings.ToUpper(strings.TrimSpace(s))); d {
	case DomainProfessional, DomainProjects, DomainHobbies,
		DomainPhilosophy, DomainContact, DomainMeta, DomainOutOfScope:
		return d
	default:
		return DomainOutOfScope
	}
}

// Closed value sets for [Intent] fields. Model output is clamped to these;
// anything else becomes the zero member ("general" / "ambiguous" /
// "neutral").
var (
	topics = []string{
		"work_experience", "skills", "projects", "education", "achievements",
		"hobbies", "philosophy", "contact", "chat_system", "general",
	}
	questionTypes = []string{
		"factual", "experience", "opinion", "comparison", "procedural",
		"clarification", "greeting", "ambiguous",
	}
	tones = []string{
		"neutral", "curious", "professional", "casual", "skeptical", "enthusiastic",
	}
)

// Intent is the structured reading of a user message produced by the intent
// stage.
type Intent struct {
	Topic         string
	QuestionType  string
	Entities      []string
	EmotionalTone string
	Confidence    float64
}

// clampEnum lower-cases and trims v and returns it when it is a member of
// valid, else fallback.
func clampEnum(v string, valid []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, ok := range valid {
		if v == ok {
			return v
		}
	}
	return fallback
}

// Code identifies a terminal pipeline outcome.
type Code string

// The closed set of error codes. An empty Code means success.
const (
	CodeRateLimited   Code = "RATE_LIMITED"
	CodeInputTooLong  Code = "INPUT_TOO_LONG"
	CodeBlockedInput  Code = "BLOCKED_INPUT"
	CodeOutOfScope    Code = "OUT_OF_SCOPE"
	CodeSafetyFailed  Code = "SAFETY_FAILED"
	CodeInternalError Code = "INTERNAL_ERROR"
)

// cannedMessages are the fixed user-visible strings, one per code. They
// never interpolate internal detail.
var cannedMessages = map[Code]string{
	CodeRateLimited:   "You're sending messages a little too quickly. Please wait a moment and try again.",
	CodeInputTooLong:  "That message is too long for me. Could you shorten it to under 2000 characters?",
	CodeBlockedInput:  "I can't help with that. I'm here to answer questions about Kellogg — his work, projects, and interests.",
	CodeOutOfScope:    "That's outside what I can talk about. Ask me about Kellogg's work, projects, hobbies, or how to get in touch with him.",
	CodeSafetyFailed:  "Let me rephrase that — I wasn't happy with my answer. Could you ask that again, maybe a little differently?",
	CodeInternalError: "Something went wrong on my end. Please try again in a moment.",
}

// CannedMessage returns the fixed user-visible message for a code.
func CannedMessage(c Code) string {
	if msg, ok := cannedMessages[c]; ok {
		return msg
	}
	return cannedMessages[CodeInternalError]
}

// Result is the pipeline's answer for one request. Code is empty on
// success; on refusal or failure it names the outcome and Content carries
// the canned message.
type Result struct {
	Code           Code
	Content        string
	Domain         Domain
	ConversationID string
	RequestID      string
	ResponseTimeMS int64
	LayerTimingsMS map[string]int64
}

// Ok reports whether the result is a successful answer.
func (r Result) Ok() bool { return r.Code == "" }
