// Package observe is the telemetry context pipeline behind the beacon demo
// servers.
//
// A Hub keeps one Scope per unit of work (tags, extra data, user identity,
// breadcrumbs and the active span) in an arena indexed by a token carried on
// context.Context. Capture calls snapshot that Scope into an immutable Event
// and hand it to a Sink; finished root spans are handed over as a SpanTree.
//
// Every capture and scope operation is total: observability must never be
// the reason a request fails.
package observe
