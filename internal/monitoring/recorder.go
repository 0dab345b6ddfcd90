package monitoring

import "time"

// Recorder matches the bus dispatch hook.
type Recorder interface {
	RecordDispatch(eventType string, duration time.Duration, err error)
}

// Recorders fans one dispatch out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordDispatch(eventType string, duration time.Duration, err error) {
	for _, r := range rs {
		r.RecordDispatch(eventType, duration, err)
	}
}
