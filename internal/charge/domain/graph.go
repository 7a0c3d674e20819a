package domain

import (
	"fmt"
	"sort"
	"strings"
)

type edge struct {
	from ChargeStatus
	to   ChargeStatus
}

// StatusGraph is the authoritative table of legal charge-status transitions.
// It is built once at startup and never mutated.
type StatusGraph struct {
	edges map[edge]map[TriggerKind]struct{}
}

type transition struct {
	from     ChargeStatus
	to       ChargeStatus
	triggers []TriggerKind
}

// NewStatusGraph constructs the immutable transition table.
func NewStatusGraph() *StatusGraph {
	transitions := []transition{
		{StatusCreated, StatusEnteringDetails, []TriggerKind{TriggerAPI}},
		{StatusCreated, StatusAuthorisationSuccess, []TriggerKind{TriggerNotification}},
		{StatusCreated, StatusAuthorisationRejected, []TriggerKind{TriggerNotification}},
		{StatusCreated, StatusAuthorisationError, []TriggerKind{TriggerNotification}},
		{StatusCreated, StatusExpired, []TriggerKind{TriggerExpiry}},
		{StatusCreated, StatusUserCancelled, []TriggerKind{TriggerUserCancel}},
		{StatusCreated, StatusSystemCancelled, []TriggerKind{TriggerSystemCancel}},

		{StatusEnteringDetails, StatusAuthorisationSubmitted, []TriggerKind{TriggerAPI}},
		{StatusEnteringDetails, StatusAuthorisationSuccess, []TriggerKind{TriggerNotification}},
		{StatusEnteringDetails, StatusAuthorisationRejected, []TriggerKind{TriggerNotification}},
		{StatusEnteringDetails, StatusAuthorisationError, []TriggerKind{TriggerNotification}},
		{StatusEnteringDetails, StatusExpired, []TriggerKind{TriggerExpiry}},
		{StatusEnteringDetails, StatusUserCancelled, []TriggerKind{TriggerUserCancel}},
		{StatusEnteringDetails, StatusSystemCancelled, []TriggerKind{TriggerSystemCancel}},

		{StatusAuthorisationSubmitted, StatusAuthorisationSuccess, []TriggerKind{TriggerAPI, TriggerNotification}},
		{StatusAuthorisationSubmitted, StatusAuthorisationRejected, []TriggerKind{TriggerAPI, TriggerNotification}},
		{StatusAuthorisationSubmitted, StatusAuthorisationError, []TriggerKind{TriggerAPI, TriggerNotification}},
		{StatusAuthorisationSubmitted, StatusExpired, []TriggerKind{TriggerExpiry}},

		{StatusAuthorisationSuccess, StatusCaptureApproved, []TriggerKind{TriggerAPI, TriggerNotification}},
		{StatusAuthorisationSuccess, StatusUserCancelled, []TriggerKind{TriggerUserCancel}},
		{StatusAuthorisationSuccess, StatusSystemCancelled, []TriggerKind{TriggerSystemCancel}},
		{StatusAuthorisationSuccess, StatusCancelError, []TriggerKind{TriggerUserCancel, TriggerSystemCancel}},
		{StatusAuthorisationSuccess, StatusExpired, []TriggerKind{TriggerExpiry}},

		{StatusCaptureApproved, StatusCaptureReady, []TriggerKind{TriggerCapture}},
		{StatusCaptureApproved, StatusCaptured, []TriggerKind{TriggerNotification}},
		{StatusCaptureApprovedRetry, StatusCaptureReady, []TriggerKind{TriggerCapture}},
		{StatusCaptureApprovedRetry, StatusCaptured, []TriggerKind{TriggerNotification}},
		{StatusCaptureApprovedRetry, StatusCaptureError, []TriggerKind{TriggerCapture}},

		{StatusCaptureReady, StatusCaptureSubmitted, []TriggerKind{TriggerCapture}},
		{StatusCaptureReady, StatusCaptureApprovedRetry, []TriggerKind{TriggerCapture}},

		{StatusCaptureSubmitted, StatusCaptured, []TriggerKind{TriggerCapture, TriggerNotification}},
		{StatusCaptureSubmitted, StatusCaptureApprovedRetry, []TriggerKind{TriggerCapture}},
		{StatusCaptureSubmitted, StatusCaptureError, []TriggerKind{TriggerCapture}},
	}

	edges := make(map[edge]map[TriggerKind]struct{}, len(transitions))
	for _, t := range transitions {
		key := edge{from: t.from, to: t.to}
		kinds, ok := edges[key]
		if !ok {
			kinds = make(map[TriggerKind]struct{}, len(t.triggers))
			edges[key] = kinds
		}
		for _, trigger := range t.triggers {
			kinds[trigger] = struct{}{}
		}
	}
	return &StatusGraph{edges: edges}
}

// IsValidTransition reports whether the edge (from, to) may be driven by the
// given trigger.
func (g *StatusGraph) IsValidTransition(from, to ChargeStatus, trigger TriggerKind) bool {
	kinds, ok := g.edges[edge{from: from, to: to}]
	if !ok {
		return false
	}
	_, ok = kinds[trigger]
	return ok
}

// AllowedNextStates returns every status reachable from the given status,
// regardless of trigger, sorted for stable output.
func (g *StatusGraph) AllowedNextStates(from ChargeStatus) []ChargeStatus {
	var next []ChargeStatus
	for key := range g.edges {
		if key.from == from {
			next = append(next, key.to)
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// IsTerminal reports whether a status has no outgoing edges.
func (g *StatusGraph) IsTerminal(status ChargeStatus) bool {
	return len(g.AllowedNextStates(status)) == 0
}

// DOT renders the graph in Graphviz format for operational documentation.
func (g *StatusGraph) DOT() string {
	keys := make([]edge, 0, len(g.edges))
	for key := range g.edges {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})

	var b strings.Builder
	b.WriteString("digraph charge_status {\n")
	for _, key := range keys {
		kinds := make([]string, 0, len(g.edges[key]))
		for kind := range g.edges[key] {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		fmt.Fprintf(&b, "  %q -> %q [label=%q];\n", key.from, key.to, strings.Join(kinds, ","))
	}
	b.WriteString("}\n")
	return b.String()
}
