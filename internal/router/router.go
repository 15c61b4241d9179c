// Package router picks the engine for an incoming message: an explicit
// /engine directive wins, then a resume line echoed in the replied-to
// message, then the multi-agent heuristics, then the configured default.
package router

import (
	"regexp"
	"strings"

	"github.com/takopi-dev/takopi/internal/model"
)

// Reason says how a routing decision was reached.
type Reason string

const (
	ReasonExplicit  Reason = "explicit"
	ReasonResume    Reason = "resume"
	ReasonHeuristic Reason = "heuristic"
	ReasonDefault   Reason = "default"
)

// Decision is the outcome of routing one message.
type Decision struct {
	Engine     model.EngineID
	Reason     Reason
	Confidence float64

	// SuggestMultiAgent is set when the heuristics favored the liaison but
	// suggest-only mode kept the default engine.
	SuggestMultiAgent bool

	// Resume is non-nil when the decision continues a prior session.
	Resume *model.ResumeToken

	// Prompt is the message text with any directive stripped.
	Prompt string
}

// ExtractFunc scans text for a resume line of any registered backend.
type ExtractFunc func(text string) (model.ResumeToken, bool)

// Router routes messages to engines.
type Router struct {
	DefaultEngine model.EngineID
	Engines       []model.EngineID
	Extract       ExtractFunc

	// LiaisonThreshold is the minimum heuristic score before the liaison is
	// suggested. Zero means the default of 0.70.
	LiaisonThreshold float64

	// SuggestOnly reports liaison suitability without switching engines.
	SuggestOnly bool
}

var directiveRe = regexp.MustCompile(`(?s)^/([A-Za-z][A-Za-z0-9_-]*)\s*(.*)$`)

func (r *Router) knows(engine model.EngineID) bool {
	for _, id := range r.Engines {
		if id == engine {
			return true
		}
	}
	return false
}

func (r *Router) threshold() float64 {
	if r.LiaisonThreshold > 0 {
		return r.LiaisonThreshold
	}
	return 0.70
}

// Route decides the engine for a message. replyText is the text of the
// message being replied to, empty when the message is not a reply.
func (r *Router) Route(text, replyText string) Decision {
	text = strings.TrimSpace(text)

	if m := directiveRe.FindStringSubmatch(text); m != nil && r.knows(model.EngineID(strings.ToLower(m[1]))) {
		return Decision{
			Engine:     model.EngineID(strings.ToLower(m[1])),
			Reason:     ReasonExplicit,
			Confidence: 1.0,
			Prompt:     strings.TrimSpace(m[2]),
		}
	}

	if replyText != "" && r.Extract != nil {
		if token, ok := r.Extract(replyText); ok {
			return Decision{
				Engine:     token.Engine,
				Reason:     ReasonResume,
				Confidence: 1.0,
				Resume:     &token,
				Prompt:     text,
			}
		}
	}

	liaisonScore := scoreLiaison(text)
	simpleScore := scoreSimple(text)
	suggested := liaisonScore >= r.threshold() && liaisonScore > simpleScore && r.knows("liaison")

	if suggested && !r.SuggestOnly {
		return Decision{
			Engine:            "liaison",
			Reason:            ReasonHeuristic,
			Confidence:        liaisonScore,
			SuggestMultiAgent: true,
			Prompt:            text,
		}
	}

	confidence := simpleScore
	if confidence < 0.5 {
		confidence = 0.5
	}
	return Decision{
		Engine:            r.DefaultEngine,
		Reason:            ReasonDefault,
		Confidence:        confidence,
		SuggestMultiAgent: suggested,
		Prompt:            text,
	}
}
