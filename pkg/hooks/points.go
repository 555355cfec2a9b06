// Package hooks is the extension surface: in-process handlers registered
// at enumerated hook points, persisted extensions re-materialized as
// placeholders on startup, and signed outbound webhooks fanned out after
// each dispatch.
package hooks

import "strings"

// Point is an enumerated hook point. Points group into families; the
// family prefix is what webhook subscriptions match against.
type Point string

const (
	PointSystemStartup  Point = "system.startup"
	PointSystemShutdown Point = "system.shutdown"

	PointTaskCreated   Point = "task.created"
	PointTaskCompleted Point = "task.completed"
	PointTaskFailed    Point = "task.failed"

	PointMemorySaved        Point = "memory.saved"
	PointMemoryConsolidated Point = "memory.consolidated"

	PointMessageInbound  Point = "message.inbound"
	PointMessageOutbound Point = "message.outbound"

	PointAIRequest  Point = "ai.request"
	PointAIResponse Point = "ai.response"

	PointSecurityAlert  Point = "security.alert"
	PointSecurityDenied Point = "security.denied"

	PointAgentStarted Point = "agent.started"
	PointAgentStopped Point = "agent.stopped"

	PointProactiveTriggered Point = "proactive.triggered"

	PointMultimodalTranscribed Point = "multimodal.transcribed"
	PointMultimodalSynthesized Point = "multimodal.synthesized"
)

var allPoints = map[Point]bool{
	PointSystemStartup: true, PointSystemShutdown: true,
	PointTaskCreated: true, PointTaskCompleted: true, PointTaskFailed: true,
	PointMemorySaved: true, PointMemoryConsolidated: true,
	PointMessageInbound: true, PointMessageOutbound: true,
	PointAIRequest: true, PointAIResponse: true,
	PointSecurityAlert: true, PointSecurityDenied: true,
	PointAgentStarted: true, PointAgentStopped: true,
	PointProactiveTriggered: true,
	PointMultimodalTranscribed: true, PointMultimodalSynthesized: true,
}

// Valid reports whether p is a known hook point.
func (p Point) Valid() bool { return allPoints[p] }

// Family returns the point's family, the segment before the first dot.
func (p Point) Family() string {
	if i := strings.IndexByte(string(p), '.'); i > 0 {
		return string(p)[:i]
	}
	return string(p)
}

// Points lists every known hook point.
func Points() []Point {
	out := make([]Point, 0, len(allPoints))
	for p := range allPoints {
		out = append(out, p)
	}
	return out
}
