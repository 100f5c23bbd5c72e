package core

import (
	"encoding/json"
	"strings"
)

// InterpretationRecord is the fixed schema the structured response mode
// hands back. Every field is always populated; tags holds 1-5 entries.
type InterpretationRecord struct {
	CoreInterpretation    string   `json:"core_interpretation"`
	KeySymbols            string   `json:"key_symbols"`
	EmotionalSignificance string   `json:"emotional_significance"`
	GuidanceActions       string   `json:"guidance_actions"`
	PersonalReflection    string   `json:"personal_reflection"`
	Tags                  []string `json:"tags"`
}

const (
	maxTags            = 5
	fallbackTruncateAt = 500
)

// Per-field defaults used by the backfill pass when a parsed record is
// missing a key or carries the wrong type.
const (
	defaultCoreInterpretation    = "Thank you for sharing this profound dream with me. Your subconscious is speaking to you in powerful ways."
	defaultKeySymbols            = "The symbols in your dream are rich with meaning and deserve careful consideration."
	defaultEmotionalSignificance = "The emotional landscape of your dream reveals important insights about your inner world."
	defaultGuidanceActions       = "Take time to sit with this interpretation. A reflection for you: 'My dreams guide me toward greater understanding and peace.'"
	defaultPersonalReflection    = "Consider: What aspect of this dream feels most significant to you? How does it relate to your current life path?"
)

func defaultTags() []string {
	return []string{"dream", "interpretation", "insight"}
}

// Normalize coerces raw model output into a complete InterpretationRecord.
// The repair is two-tier: a whole-record fallback when no JSON object can
// be parsed out of the text, then a per-field backfill so a partially
// valid object is repaired field by field rather than discarded wholesale.
// Model output is untrusted input; the result is never partial.
func Normalize(raw string) InterpretationRecord {
	var record InterpretationRecord

	span, ok := braceSpan(stripFences(raw))
	parsed := map[string]any{}
	if ok && json.Unmarshal([]byte(span), &parsed) == nil {
		record = recordFromMap(parsed)
	} else {
		record = fallbackRecord(raw)
	}

	backfill(&record)
	return record
}

// stripFences removes markdown code-fence wrappers, with or without a
// "json" language tag, by literal prefix/suffix trimming.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// braceSpan returns the widest greedy {...} span in s.
func braceSpan(s string) (string, bool) {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first < 0 || last <= first {
		return "", false
	}
	return s[first : last+1], true
}

func recordFromMap(parsed map[string]any) InterpretationRecord {
	record := InterpretationRecord{
		CoreInterpretation:    stringField(parsed, "core_interpretation"),
		KeySymbols:            stringField(parsed, "key_symbols"),
		EmotionalSignificance: stringField(parsed, "emotional_significance"),
		GuidanceActions:       stringField(parsed, "guidance_actions"),
		PersonalReflection:    stringField(parsed, "personal_reflection"),
	}

	if rawTags, ok := parsed["tags"].([]any); ok {
		for _, tag := range rawTags {
			if s, ok := tag.(string); ok && s != "" {
				record.Tags = append(record.Tags, s)
			}
		}
	}
	return record
}

func stringField(parsed map[string]any, key string) string {
	if s, ok := parsed[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// fallbackRecord synthesizes a complete record when the model returned no
// parseable JSON at all. The raw text is kept, truncated, as the core
// interpretation so the user still sees what the model said.
func fallbackRecord(raw string) InterpretationRecord {
	return InterpretationRecord{
		CoreInterpretation: "Thank you for sharing this meaningful dream with me. " + truncateRunes(strings.TrimSpace(raw), fallbackTruncateAt),
		KeySymbols:         "Your dream contains important symbols that reflect your inner state and current life journey.",
		EmotionalSignificance: "This dream appears to be processing significant emotions and experiences in your life.",
		GuidanceActions: "Take time to reflect on what resonates most with you. Consider keeping a dream journal to track patterns. " +
			"A reflection for you: 'I trust the wisdom of my dreams to guide me.'",
		PersonalReflection: "What emotions did you feel strongest in the dream? How might this relate to your current life situation? " +
			"What message might your subconscious be offering you?",
		Tags: defaultTags(),
	}
}

// backfill replaces any empty field with its own stock default, and clamps
// tags to 1-5 string entries.
func backfill(record *InterpretationRecord) {
	if record.CoreInterpretation == "" {
		record.CoreInterpretation = defaultCoreInterpretation
	}
	if record.KeySymbols == "" {
		record.KeySymbols = defaultKeySymbols
	}
	if record.EmotionalSignificance == "" {
		record.EmotionalSignificance = defaultEmotionalSignificance
	}
	if record.GuidanceActions == "" {
		record.GuidanceActions = defaultGuidanceActions
	}
	if record.PersonalReflection == "" {
		record.PersonalReflection = defaultPersonalReflection
	}
	if len(record.Tags) == 0 {
		record.Tags = defaultTags()
	}
	if len(record.Tags) > maxTags {
		record.Tags = record.Tags[:maxTags]
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
