package pipeline

import "testing"

func TestRouteTable(t *testing.T) {
	tests := []struct {
		topic        string
		questionType string
		confidence   float64
		want         Domain
	}{
		{"work_experience", "factual", 0.9, DomainProfessional},
		{"skills", "factual", 0.9, DomainProfessional},
		{"education", "factual", 0.9, DomainProfessional},
		{"achievements", "factual", 0.9, DomainProfessional},
		{"projects", "factual", 0.9, DomainProjects},
		{"hobbies", "experience", 0.9, DomainHobbies},
		{"philosophy", "opinion", 0.9, DomainPhilosophy},
		{"contact", "procedural", 0.9, DomainContact},
		{"chat_system", "factual", 0.9, DomainMeta},
		{"general", "factual", 0.9, DomainOutOfScope},
		{"general", "greeting", 0.9, DomainMeta},
		// Low confidence defaults out of scope…
		{"work_experience", "factual", 0.2, DomainOutOfScope},
		// …unless it is obviously a greeting.
		{"general", "greeting", 0.1, DomainMeta},
	}
	for _, tt := range tests {
		got := Route(Intent{Topic: tt.topic, QuestionType: tt.questionType, Confidence: tt.confidence})
		if got != tt.want {
			t.Errorf("Route(%s/%s/%.1f) = %s, want %s", tt.topic, tt.questionType, tt.confidence, got, tt.want)
		}
	}
}

// Domain closure: whatever junk arrives, the output is a member of the enum
// and unknown topics deterministically land out of scope.
func TestDomainClosure(t *testing.T) {
	junkTopics := []string{"", "weather", "WORK_EXPERIENCE!!", "💥", "projects "}
	valid := map[Domain]bool{
		DomainProfessional: true, DomainProjects: true, DomainHobbies: true,
		DomainPhilosophy: true, DomainContact: true, DomainMeta: true, DomainOutOfScope: true,
	}
	for _, topic := range junkTopics {
		clamped := clampEnum(topic, topics, "general")
		d := Route(Intent{Topic: clamped, QuestionType: "factual", Confidence: 0.9})
		if !valid[d] {
			t.Errorf("topic %q routed to non-domain %q", topic, d)
		}
	}

	if d := Route(Intent{Topic: clampEnum("weather", topics, "general"), QuestionType: "factual", Confidence: 0.9}); d != DomainOutOfScope {
		t.Errorf("unknown topic routed to %s, want OUT_OF_SCOPE", d)
	}
}

func TestParseDomainClamps(t *testing.T) {
	tests := []struct {
		in   string
		want Domain
	}{
		{"professional", DomainProfessional},
		{" META ", DomainMeta},
		{"nonsense", DomainOutOfScope},
		{"", DomainOutOfScope},
	}
	for _, tt := range tests {
		if got := ParseDomain(tt.in); got != tt.want {
			t.Errorf("ParseDomain(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestClampEnum(t *testing.T) {
	if got := clampEnum("  Factual ", questionTypes, "ambiguous"); got != "factual" {
		t.Errorf("got %q", got)
	}
	if got := clampEnum("shouting", tones, "neutral"); got != "neutral" {
		t.Errorf("got %q", got)
	}
}
