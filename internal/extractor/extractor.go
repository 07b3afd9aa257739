// Package extractor derives a structured CallRecord from a raw call event.
// Extraction never fails: any field that cannot be derived gets its safe
// default, so a garbled transcript still produces a loggable row.
package extractor

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SumitKumar-17/cre-agent/internal/model"
)

const (
	maxInquiryLen = 200
	maxNotesLen   = 500
)

// roleRule maps self-identification cues to a caller role. Rules are
// ordered: when two rules match the same utterance, the earlier one wins.
type roleRule struct {
	role     model.Role
	keywords []string
}

// Owner cues are possessive on purpose ("my building", "sell my") so that a
// caller looking to lease space is not misread as a landlord.
var roleRules = []roleRule{
	{model.RolePropertyOwner, []string{
		"i own", "own a", "my property", "my building", "sell my",
		"selling my", "landlord", "list my", "valuation of my",
	}},
	{model.RoleBuyer, []string{
		"buy", "purchase", "acquire", "invest", "looking for",
		"looking to", "lease space", "rent space", "need space",
	}},
	{model.RoleLender, []string{
		"lend", "loan", "financing", "finance", "mortgage", "refinance",
	}},
}

// inquiryCues mark an utterance as stating what the caller actually wants.
var inquiryCues = []string{
	"looking for", "looking to", "interested in", "want", "need",
	"my budget", "plan to", "require", "calling about", "inquir",
}

// markets lists lowercase place/submarket tokens and their display form.
// Extraction is lookup-only: no place is ever inferred from context.
var markets = []struct {
	token   string
	display string
}{
	{"midtown", "Midtown"},
	{"downtown", "Downtown"},
	{"uptown", "Uptown"},
	{"manhattan", "Manhattan"},
	{"brooklyn", "Brooklyn"},
	{"queens", "Queens"},
	{"bronx", "Bronx"},
	{"staten island", "Staten Island"},
	{"soho", "SoHo"},
	{"tribeca", "Tribeca"},
	{"financial district", "Financial District"},
	{"business district", "Business District"},
}

var propertyTypes = []struct {
	name string
	cues []string
}{
	{"office", []string{"office"}},
	{"retail", []string{"retail", "storefront", "restaurant"}},
	{"industrial", []string{"industrial", "warehouse", "distribution", "manufacturing"}},
	{"land", []string{"land", "parcel", "lot"}},
	{"residential", []string{"multi-family", "apartment", "residential"}},
}

var interestCues = []string{
	"definitely", "absolutely", "interested", "ready", "today", "immediately",
}

var urgencyCues = []string{
	"urgent", "asap", "immediately", "right away", "this week",
}

// Extract builds the canonical record for one completed call. Pure function
// of the event and the rule tables above.
func Extract(event model.CallEvent) model.CallRecord {
	caller := callerUtterances(event.Transcript)

	return model.CallRecord{
		CallID:    event.CallID,
		Timestamp: timestamp(event.EndTime),
		Name:      cleanText(event.CallerIDName),
		Role:      classifyRole(caller),
		Inquiry:   extractInquiry(caller),
		Market:    extractMarket(caller),
		Phone:     normalizePhone(event.CallerIDNumber),
		Notes:     buildNotes(caller),
	}
}

func callerUtterances(transcript []model.Utterance) []string {
	var out []string
	for _, u := range transcript {
		switch strings.ToLower(u.Speaker) {
		case "user", "customer", "caller", "human":
			if msg := cleanText(u.Message); msg != "" {
				out = append(out, msg)
			}
		}
	}
	return out
}

// classifyRole scans every caller utterance against every rule and keeps,
// per rule, the last utterance index it matched. The rule with the highest
// index wins: callers often correct themselves mid-call, and the most
// recently stated role is the one the broker should act on.
func classifyRole(caller []string) model.Role {
	if len(caller) == 0 {
		return model.RoleUnknown
	}

	best := model.RoleGeneralInquiry
	bestIdx := -1
	for _, rule := range roleRules {
		if idx := lastMention(caller, rule.keywords); idx > bestIdx {
			best = rule.role
			bestIdx = idx
		}
	}
	return best
}

func lastMention(caller []string, keywords []string) int {
	last := -1
	for i, msg := range caller {
		lower := strings.ToLower(msg)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				last = i
				break
			}
		}
	}
	return last
}

// extractInquiry takes the most recent caller utterance that states a want,
// on the theory that the tail of the call is where the ask has settled.
func extractInquiry(caller []string) string {
	for i := len(caller) - 1; i >= 0; i-- {
		lower := strings.ToLower(caller[i])
		for _, cue := range inquiryCues {
			if strings.Contains(lower, cue) {
				return truncate(caller[i], maxInquiryLen)
			}
		}
	}
	return ""
}

// extractMarket keeps the place named last: across utterances the later
// utterance wins, and within one utterance the token at the highest string
// position wins.
func extractMarket(caller []string) string {
	found := ""
	for _, msg := range caller {
		lower := strings.ToLower(msg)
		best := -1
		for _, m := range markets {
			if idx := strings.LastIndex(lower, m.token); idx > best {
				best = idx
				found = m.display
			}
		}
	}
	return found
}

// buildNotes summarizes qualification signals plus the transcript tail.
func buildNotes(caller []string) string {
	if len(caller) == 0 {
		return ""
	}

	all := strings.ToLower(strings.Join(caller, " "))

	interest := "low"
	if n := countCues(all, interestCues); n > 2 {
		interest = "high"
	} else if n > 0 {
		interest = "medium"
	}

	urgency := "low"
	if n := countCues(all, urgencyCues); n > 1 {
		urgency = "high"
	} else if n > 0 {
		urgency = "medium"
	}

	parts := []string{"interest: " + interest, "urgency: " + urgency}
	for _, pt := range propertyTypes {
		if countCues(all, pt.cues) > 0 {
			parts = append(parts, "property type: "+pt.name)
			break
		}
	}
	parts = append(parts, "last: "+caller[len(caller)-1])

	return truncate(strings.Join(parts, "; "), maxNotesLen)
}

func countCues(text string, cues []string) int {
	n := 0
	for _, cue := range cues {
		n += strings.Count(text, cue)
	}
	return n
}

// normalizePhone returns the caller id in E.164, or "" when the number is
// not recognizably a phone number. US 10-digit numbers get the +1 prefix.
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	switch {
	case len(d) == 10:
		return "+1" + d
	case len(d) == 11 && d[0] == '1':
		return "+" + d
	case strings.HasPrefix(strings.TrimSpace(raw), "+") && len(d) >= 8 && len(d) <= 15:
		return "+" + d
	default:
		return ""
	}
}

func timestamp(endTime string) string {
	if endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
