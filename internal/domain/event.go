package domain

import (
	"strings"
	"time"
)

// EventType names the kind of state snapshot carried by an Event.
type EventType string

const (
	EventSwapUpdate         EventType = "SWAP_UPDATE"
	EventStepUpdate         EventType = "STEP_UPDATE"
	EventDCAExecutionUpdate EventType = "DCA_EXECUTION_UPDATE"
	EventDCAUpdate          EventType = "DCA_UPDATE"
	EventOrderFill          EventType = "ORDER_FILL"
	EventOrderUpdate        EventType = "ORDER_UPDATE"
	EventAlertTriggered     EventType = "ALERT_TRIGGERED"
	EventAlertUpdate        EventType = "ALERT_UPDATE"
)

// Event is the wire message delivered to subscribers. Payload always holds a
// full snapshot of the entity so missed intermediate events are harmless.
type Event struct {
	Type      EventType `json:"type"`
	EntityID  string    `json:"entityId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Topic is a pub/sub channel name scoped to one entity or user.
type Topic string

func SwapTopic(id string) Topic  { return Topic("swap:" + id) }
func DCATopic(id string) Topic   { return Topic("dca:" + id) }
func OrderTopic(id string) Topic { return Topic("order:" + id) }
func AlertTopic(id string) Topic { return Topic("alert:" + id) }
func UserTopic(id string) Topic  { return Topic("user:" + id) }

// Match reports whether the topic matches pattern, where a trailing "*"
// matches any suffix.
func (t Topic) Match(pattern string) bool {
	if pattern == "*" || pattern == string(t) {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(string(t), prefix)
	}
	return false
}

// StepSnapshot is the payload of a STEP_UPDATE.
type StepSnapshot struct {
	SwapID string   `json:"swapId"`
	Step   SwapStep `json:"step"`
}

// FillSnapshot is the payload of an ORDER_FILL.
type FillSnapshot struct {
	Order LimitOrder     `json:"order"`
	Fill  LimitOrderFill `json:"fill"`
}

// DCAExecutionSnapshot is the payload of a DCA_EXECUTION_UPDATE.
type DCAExecutionSnapshot struct {
	Strategy  DCAStrategy  `json:"strategy"`
	Execution DCAExecution `json:"execution"`
}

// AlertSnapshot is the payload of an ALERT_TRIGGERED.
type AlertSnapshot struct {
	Alert   PriceAlert   `json:"alert"`
	Trigger AlertTrigger `json:"trigger"`
}

func NewSwapEvent(s Swap, at time.Time) Event {
	return Event{Type: EventSwapUpdate, EntityID: s.ID, Status: string(s.Status), Timestamp: at, Payload: s.Clone()}
}

func NewStepEvent(s Swap, idx int, at time.Time) Event {
	st := s.Steps[idx]
	return Event{Type: EventStepUpdate, EntityID: s.ID, Status: string(st.Status), Timestamp: at,
		Payload: StepSnapshot{SwapID: s.ID, Step: st}}
}

func NewDCAExecutionEvent(s DCAStrategy, e DCAExecution, at time.Time) Event {
	return Event{Type: EventDCAExecutionUpdate, EntityID: s.ID, Status: string(e.Status), Timestamp: at,
		Payload: DCAExecutionSnapshot{Strategy: s, Execution: e}}
}

func NewDCAEvent(s DCAStrategy, at time.Time) Event {
	return Event{Type: EventDCAUpdate, EntityID: s.ID, Status: string(s.Status), Timestamp: at, Payload: s}
}

func NewOrderFillEvent(o LimitOrder, f LimitOrderFill, at time.Time) Event {
	return Event{Type: EventOrderFill, EntityID: o.ID, Status: string(o.Status), Timestamp: at,
		Payload: FillSnapshot{Order: o, Fill: f}}
}

func NewOrderEvent(o LimitOrder, at time.Time) Event {
	return Event{Type: EventOrderUpdate, EntityID: o.ID, Status: string(o.Status), Timestamp: at, Payload: o}
}

func NewAlertTriggeredEvent(a PriceAlert, t AlertTrigger, at time.Time) Event {
	return Event{Type: EventAlertTriggered, EntityID: a.ID, Status: string(a.Status), Timestamp: at,
		Payload: AlertSnapshot{Alert: a, Trigger: t}}
}

func NewAlertEvent(a PriceAlert, at time.Time) Event {
	return Event{Type: EventAlertUpdate, EntityID: a.ID, Status: string(a.Status), Timestamp: at, Payload: a}
}
