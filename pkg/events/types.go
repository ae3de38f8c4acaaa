package events

import "encoding/json"

// Event names published by the daemon on /events.
const (
	WeightStable = "weight.stable"
	Tared        = "scale.tare"
	Calibrated   = "scale.calibrated"
	UnitChanged  = "scale.unit"
	ErrorChanged = "scale.error"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// WeightStableEvent is sent when the weight settles.
type WeightStableEvent struct {
	Grams  float64 `json:"grams"`
	Weight float64 `json:"weight"`
	Unit   string  `json:"unit"`
	Ts     int64   `json:"ts"`
}

// TareEvent is sent after a tare. Offset is the new zero point in raw counts.
type TareEvent struct {
	Offset float64 `json:"offset"`
	Auto   bool    `json:"auto,omitempty"`
	Ts     int64   `json:"ts"`
}

// CalibratedEvent is sent after a calibration attempt.
type CalibratedEvent struct {
	Reference float64 `json:"reference"`
	Factor    float64 `json:"factor"`
	Error     string  `json:"error,omitempty"`
	Ts        int64   `json:"ts"`
}

// UnitChangedEvent is sent when the display unit changes.
type UnitChangedEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// ErrorChangedEvent is sent when the reported error code changes.
type ErrorChangedEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
	Ts   int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// If Data is empty, it returns the zero value of T with a nil error.
//
//	payload, err := events.DecodeAs[events.WeightStableEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
