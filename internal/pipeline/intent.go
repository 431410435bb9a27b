package pipeline

import (
	"context"

	"github.com/sefton37/kelloggchat/internal/backend"
	"github.com/sefton37/kelloggchat/internal/prompts"
	"github.com/sefton37/kelloggchat/pkg/provider/llm"
)

// intentResult is the combined L3/L4 model output.
type intentResult struct {
	Topic         string   `json:"topic"`
	QuestionType  string   `json:"question_type"`
	Entities      []string `json:"entities"`
	EmotionalTone string   `json:"emotional_tone"`
	Confidence    float64  `json:"confidence"`
}

// maxEntities bounds the entity list regardless of what the model emits.
const maxEntities = 5

// routeConfidenceFloor is the confidence below which routing defaults to
// OUT_OF_SCOPE unless the message is obviously a greeting.
const routeConfidenceFloor = 0.3

// parseIntent runs the combined intent/domain model call. On any model or
// parse failure it returns a low-confidence general intent — the router
// then sends it out of scope, which is the fail-closed reading.
func (o *Orchestrator) parseIntent(ctx context.Context, sanitized string, trace *Trace) Intent {
	var res intentResult
	stats, err := o.backend.ChatJSON(ctx, o.models.Router, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: prompts.Intent()},
			{Role: "user", Content: sanitized},
		},
	}, backend.Options{Timeout: o.budgets.Classify, MaxTokens: 300}, &res)
	trace.AddModelCall(stats)
	if err != nil {
		return Intent{Topic: "general", QuestionType: "ambiguous", EmotionalTone: "neutral"}
	}

	intent := Intent{
		Topic:         clampEnum(res.Topic, topics, "general"),
		QuestionType:  clampEnum(res.QuestionType, questionTypes, "ambiguous"),
		EmotionalTone: clampEnum(res.EmotionalTone, tones, "neutral"),
		Confidence:    clamp01(res.Confidence),
	}
	for _, e := range res.Entities {
		if e == "" {
			continue
		}
		intent.Entities = append(intent.Entities, e)
		if len(intent.Entities) == maxEntities {
			break
		}
	}
	return intent
}

// Route maps an intent to its domain. The table is total over the topic
// enum; clamping upstream guarantees the default branch only sees "general".
func Route(intent Intent) Domain {
	if intent.Confidence < routeConfidenceFloor && intent.QuestionType != "greeting" {
		return DomainOutOfScope
	}

	switch intent.Topic {
	case "work_experience", "skills", "education", "achievements":
		return DomainProfessional
	case "projects":
		return DomainProjects
	case "hobbies":
		return DomainHobbies
	case "philosophy":
		return DomainPhilosophy
	case "contact":
		return DomainContact
	case "chat_system":
		return DomainMeta
	default:
		if intent.QuestionType == "greeting" {
			return DomainMeta
		}
		return DomainOutOfScope
	}
}

// clamp01 bounds a confidence to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
