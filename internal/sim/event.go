package sim

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a logged event. It is written as its name.
type EventType uint8

const (
	EventTypeUnknown      EventType = iota
	EventTypeTick                   // Tick boundary with RNG seed
	EventTypeBodyAdd                // Body entered the world
	EventTypeBodyRemove             // Body left the world
	EventTypeContactBegin           // Pair started overlapping
	EventTypeContactEnd             // Pair stopped overlapping (or one side was removed)
)

var eventTypeNames = [...]string{
	EventTypeUnknown:      "unknown",
	EventTypeTick:         "tick",
	EventTypeBodyAdd:      "body_add",
	EventTypeBodyRemove:   "body_remove",
	EventTypeContactBegin: "contact_begin",
	EventTypeContactEnd:   "contact_end",
}

func (t EventType) String() string {
	if int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

// contact reports whether t is a contact transition. Those are the only
// events subject to the per-tick budget.
func (t EventType) contact() bool {
	return t == EventTypeContactBegin || t == EventTypeContactEnd
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	for i, name := range eventTypeNames {
		if name == string(text) {
			*t = EventType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event type %q", text)
}

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is one line of the event log.
type Event struct {
	Version  uint8           `json:"version"`
	Type     EventType       `json:"type"`
	Time     int64           `json:"time"` // Unix nano
	Sequence uint64          `json:"sequence"`
	Tick     uint64          `json:"tick"`
	Bodies   []string        `json:"bodies,omitempty"` // One body for add/remove, the pair for contacts
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// TickPayload contains tick boundary information for replay
type TickPayload struct {
	RNGSeed     int64 `json:"rngSeed"`
	BodyCount   int   `json:"bodyCount"`
	DeltaTimeNs int64 `json:"deltaTimeNs"`
}

// BodyPayload is the box of an added or removed body
type BodyPayload struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
