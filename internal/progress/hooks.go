package progress

import "time"

// Hooks receives save telemetry from controllers.
type Hooks interface {
	ObserveSave(key Key, status string, dur time.Duration)
	IncDiscarded(key Key, reason string)
}

const (
	SaveStatusSuccess = "success"
	SaveStatusError   = "error"

	DiscardStaleTimer    = "stale_timer"
	DiscardStaleResponse = "stale_response"
	DiscardKeySwitch     = "key_switch"
	DiscardClosed        = "closed"
	DiscardDuplicate     = "duplicate"
)

type noopHooks struct{}

func (noopHooks) ObserveSave(Key, string, time.Duration) {}
func (noopHooks) IncDiscarded(Key, string)               {}
