package acquisition

import (
	"github.com/rs/zerolog"
)

// LogPublisher writes every event to a zerolog logger. Progress and state
// changes go to debug, errors to warn, the rest to info.
type LogPublisher struct {
	log zerolog.Logger
}

func NewLogPublisher(l zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: l.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(e Event) {
	var ev *zerolog.Event
	switch e.Name {
	case EventState, EventProgress:
		ev = p.log.Debug()
	case EventError:
		ev = p.log.Warn()
	default:
		ev = p.log.Info()
	}
	if e.AttemptID != "" {
		ev = ev.Str("attempt", e.AttemptID)
	}
	if e.State != "" {
		ev = ev.Str("state", string(e.State))
	}
	ev.Fields(e.Fields).Msg(e.Name)
}
