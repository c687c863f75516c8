package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Investing-Academy/whatsapp-automation-mk-II/internal/source"
)

// LeadLabels are the field labels a sales-lead message uses. The group posts
// leads in a "label: value" format; a message qualifies as a lead when it
// contains the source label at all.
type LeadLabels struct {
	Source string
	Name   string
	Email  string
	Phone  string
}

// DefaultLeadLabels matches the format the sales group actually posts in
// (Hebrew labels).
func DefaultLeadLabels() LeadLabels {
	return LeadLabels{
		Source: "מקור",
		Name:   "שם",
		Email:  "מייל",
		Phone:  "טלפון",
	}
}

// Options configures the rule set. Zero-value keyword lists disable the
// corresponding rule.
type Options struct {
	PracticeWords []string
	MessageWords  []string
	LeadLabels    LeadLabels
}

// Rules is an ordered list of matching predicates; Classify applies them
// first-match-wins. Construction happens once at startup from config.
type Rules struct {
	leadLabels  LeadLabels
	leadFields  map[string]*regexp.Regexp
	leadMarker  string
	practice    []string
	checkIn     []string
	lessonRegex *regexp.Regexp
}

// NewRules compiles the rule set.
func NewRules(opts Options) Rules {
	labels := opts.LeadLabels
	if labels.Source == "" {
		labels = DefaultLeadLabels()
	}

	all := []string{labels.Source, labels.Name, labels.Email, labels.Phone}
	fields := make(map[string]*regexp.Regexp, len(all))
	for _, label := range all {
		others := make([]string, 0, len(all)-1)
		for _, o := range all {
			if o != label {
				others = append(others, regexp.QuoteMeta(o))
			}
		}
		// Capture up to the next label or end of line/string, like the lead
		// format the group uses: "מקור: x שם: y ...".
		pat := fmt.Sprintf(`%s:\s*(.+?)(?:\s+(?:%s):|\n|$)`,
			regexp.QuoteMeta(label), strings.Join(others, "|"))
		fields[label] = regexp.MustCompile(pat)
	}

	return Rules{
		leadLabels:  labels,
		leadFields:  fields,
		leadMarker:  labels.Source + ":",
		practice:    lowerAll(opts.PracticeWords),
		checkIn:     lowerAll(opts.MessageWords),
		lessonRegex: regexp.MustCompile(`(?i)lesson\s+(\d+)|שיעור\s+(\d+)`),
	}
}

// Classify maps a raw message to exactly one record variant. Total and
// deterministic: empty or garbage text is Unrecognized, never an error.
func (r Rules) Classify(m source.RawMessage) Record {
	if lead := r.extractLead(m.Text); lead != nil {
		return Record{Kind: KindSale, Msg: m, Sale: lead}
	}

	if containsAny(m.Text, r.practice) {
		return Record{
			Kind: KindPractice,
			Msg:  m,
			Practice: &PracticeEvent{
				Student:   m.Sender,
				Lesson:    r.extractLesson(m.Text),
				Timestamp: m.Timestamp,
			},
		}
	}

	if containsAny(m.Text, r.checkIn) {
		return Record{Kind: KindCheckIn, Msg: m}
	}

	return Record{Kind: KindUnrecognized, Msg: m}
}

// extractLead pulls labeled fields from a lead message. Returns nil unless
// the message carries the lead marker and at least a name, matching the rule
// the sales group relies on.
func (r Rules) extractLead(text string) *SaleLead {
	if !strings.Contains(text, r.leadMarker) {
		return nil
	}

	get := func(label string) string {
		if m := r.leadFields[label].FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}

	lead := &SaleLead{
		Source: get(r.leadLabels.Source),
		Name:   get(r.leadLabels.Name),
		Email:  get(r.leadLabels.Email),
		Phone:  get(r.leadLabels.Phone),
	}
	if lead.Name == "" {
		return nil
	}
	return lead
}

func (r Rules) extractLesson(text string) string {
	m := r.lessonRegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func containsAny(text string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, w := range words {
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(strings.ToLower(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
