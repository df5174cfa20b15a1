// Package pipeline drives every File through conversion, remote parse, cache
// materialization, extraction and audit.
package pipeline

import (
	"docpipe/internal/domain"
	"docpipe/internal/port"
)

// Event is a named edge of the parse_state machine.
type Event string

const (
	EventDedupHit       Event = "dedup_hit"
	EventDedupMiss      Event = "dedup_miss"
	EventConverted      Event = "converted"
	EventConvertFailed  Event = "convert_failed"
	EventUnsupported    Event = "unsupported"
	EventParsed         Event = "parsed"
	EventColoringFailed Event = "coloring_failed"
	EventParseOrphaned  Event = "parse_orphaned"
	EventParseMissing   Event = "parse_missing"
	EventOCRExpired     Event = "ocr_expired"
	EventParseInvalid   Event = "parse_invalid"
	EventPageCached     Event = "page_cached"
	EventChaptersBuilt  Event = "chapters_built"
	EventRerun          Event = "rerun"
	EventCancel         Event = "cancel"
	EventFail           Event = "fail"
)

type edge struct {
	from []domain.ParseState
	to   domain.ParseState
}

var active = []domain.ParseState{
	domain.ParseStatePending,
	domain.ParseStateCaching,
	domain.ParseStateParsing,
	domain.ParseStateParseSuccess,
	domain.ParseStatePageCached,
}

var edges = map[Event]edge{
	EventDedupHit:       {from: states(domain.ParseStatePending), to: domain.ParseStateComplete},
	EventDedupMiss:      {from: states(domain.ParseStatePending), to: domain.ParseStateCaching},
	EventConverted:      {from: states(domain.ParseStateCaching), to: domain.ParseStateParsing},
	EventConvertFailed:  {from: states(domain.ParseStateCaching), to: domain.ParseStateFailed},
	EventUnsupported:    {from: states(domain.ParseStateCaching), to: domain.ParseStateUnsupported},
	EventParsed:         {from: states(domain.ParseStateParsing), to: domain.ParseStateParseSuccess},
	EventColoringFailed: {from: states(domain.ParseStateParsing), to: domain.ParseStateCaching},
	EventParseOrphaned:  {from: states(domain.ParseStateParsing), to: domain.ParseStateCaching},
	EventParseMissing:   {from: states(domain.ParseStateParsing), to: domain.ParseStateFailed},
	EventOCRExpired:     {from: states(domain.ParseStateParsing), to: domain.ParseStateOCRExpired},
	EventParseInvalid:   {from: states(domain.ParseStateParsing), to: domain.ParseStateUnconfirmed},
	EventPageCached:     {from: states(domain.ParseStateParseSuccess), to: domain.ParseStatePageCached},
	EventChaptersBuilt:  {from: states(domain.ParseStatePageCached), to: domain.ParseStateComplete},
	// A parse re-run also recovers files stuck in an error state or in
	// page_cached after a chapter failure.
	EventRerun: {from: states(
		domain.ParseStateComplete,
		domain.ParseStatePageCached,
		domain.ParseStateFailed,
		domain.ParseStateOCRExpired,
		domain.ParseStateUnconfirmed,
		domain.ParseStateCancelled,
		domain.ParseStateUnsupported,
	), to: domain.ParseStatePending},
	EventCancel: {from: active, to: domain.ParseStateCancelled},
	// Deadlines, rejected submissions and cache failures.
	EventFail: {from: active[1:], to: domain.ParseStateFailed},
}

func states(s ...domain.ParseState) []domain.ParseState { return s }

// TransitionFor returns the repository transition of ev.
func TransitionFor(ev Event) port.Transition {
	e, ok := edges[ev]
	if !ok {
		panic("pipeline: unknown event " + string(ev))
	}
	return port.Transition{From: e.from, To: e.to}
}

// CanTransition reports whether some event moves a file from one state to another.
func CanTransition(from, to domain.ParseState) bool {
	for _, e := range edges {
		if e.to != to {
			continue
		}
		for _, s := range e.from {
			if s == from {
				return true
			}
		}
	}
	return false
}
