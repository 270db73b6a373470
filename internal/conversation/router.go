package conversation

import (
	"strings"
	"time"
	"unicode"
)

// Selection id prefixes and decision ids carried by interactive replies.
const (
	CategoryPrefix = "cat_"
	ProductPrefix  = "machine_"

	InterestYesID  = "interest_yes"
	InterestNoID   = "interest_no"
	InterestInfoID = "interest_info"
)

// EventKind is the normalized shape of an inbound message.
type EventKind string

const (
	EventText        EventKind = "text"
	EventInteractive EventKind = "interactive"
	EventOther       EventKind = "other"
)

// InboundEvent is a channel message normalized by the webhook.
type InboundEvent struct {
	MessageID   string
	RecipientID string
	DisplayName string
	Kind        EventKind
	Text        string
	SelectionID string
	Timestamp   time.Time
}

// RouteKind tags the routed variant of an inbound event.
type RouteKind string

const (
	RouteCategory    RouteKind = "category"
	RouteProduct     RouteKind = "product"
	RouteDecision    RouteKind = "decision"
	RouteFreeText    RouteKind = "free_text"
	RouteUnsupported RouteKind = "unsupported"
)

// Decision is the buyer's answer to the interest prompt.
type Decision string

const (
	DecisionYes  Decision = "yes"
	DecisionNo   Decision = "no"
	DecisionInfo Decision = "info"
)

// Route is the classified form of an InboundEvent.
type Route struct {
	Kind        RouteKind
	SelectionID string
	Decision    Decision
	Text        string
}

// RouteEvent classifies an inbound event. Interactive replies are routed by
// their selection id; ids with no known prefix fall through as free text.
func RouteEvent(evt InboundEvent) Route {
	switch evt.Kind {
	case EventText:
		return Route{Kind: RouteFreeText, Text: evt.Text}
	case EventInteractive:
		id := strings.TrimSpace(evt.SelectionID)
		switch {
		case id == InterestYesID:
			return Route{Kind: RouteDecision, Decision: DecisionYes, SelectionID: id}
		case id == InterestNoID:
			return Route{Kind: RouteDecision, Decision: DecisionNo, SelectionID: id}
		case id == InterestInfoID:
			return Route{Kind: RouteDecision, Decision: DecisionInfo, SelectionID: id}
		case strings.HasPrefix(id, CategoryPrefix) && len(id) > len(CategoryPrefix):
			return Route{Kind: RouteCategory, SelectionID: id}
		case strings.HasPrefix(id, ProductPrefix) && len(id) > len(ProductPrefix):
			return Route{Kind: RouteProduct, SelectionID: id}
		default:
			return Route{Kind: RouteFreeText, SelectionID: id, Text: evt.Text}
		}
	default:
		return Route{Kind: RouteUnsupported}
	}
}

// Keyword is the intent recognized in free text.
type Keyword int

const (
	KeywordNone Keyword = iota
	KeywordYes
	KeywordNo
	KeywordInfo
	KeywordGreeting
)

type keywordGroup struct {
	keyword     Keyword
	terms       [][]string
	affirmative bool
}

// Evaluated in order; the first group with a hit wins.
var keywordGroups = []keywordGroup{
	{keyword: KeywordYes, terms: [][]string{{"yes"}, {"interested"}}, affirmative: true},
	{keyword: KeywordNo, terms: [][]string{{"no"}, {"not", "interested"}}},
	{keyword: KeywordInfo, terms: [][]string{{"info"}, {"details"}}},
	{keyword: KeywordGreeting, terms: [][]string{{"hi"}, {"hello"}, {"start"}}},
}

// MatchKeyword finds the first keyword group contained in text at word
// granularity. In the affirmative group a term directly preceded by "not"
// is not a hit.
func MatchKeyword(text string) Keyword {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return KeywordNone
	}
	for _, group := range keywordGroups {
		for _, term := range group.terms {
			if containsTerm(words, term, group.affirmative) {
				return group.keyword
			}
		}
	}
	return KeywordNone
}

func containsTerm(words, term []string, affirmative bool) bool {
	for i := 0; i+len(term) <= len(words); i++ {
		matched := true
		for j, w := range term {
			if words[i+j] != w {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if affirmative && i > 0 && words[i-1] == "not" {
			continue
		}
		return true
	}
	return false
}

func (k Keyword) decision() (Decision, bool) {
	switch k {
	case KeywordYes:
		return DecisionYes, true
	case KeywordNo:
		return DecisionNo, true
	case KeywordInfo:
		return DecisionInfo, true
	}
	return "", false
}
