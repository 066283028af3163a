package bus

import "time"

// Observer receives bus events for metrics. Calls must not block.
type Observer interface {
	ObservePublish(entries, channels int)
	ObserveNotifyError()
	ObserveWake(waiters int)
	ObservePoll(messages int, elapsed time.Duration, waited bool)
	ObserveListenerReconnect()
	ObserveMalformedNotification()
	ObserveCollect(deleted int, err error)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) ObservePublish(int, int)              {}
func (NopObserver) ObserveNotifyError()                  {}
func (NopObserver) ObserveWake(int)                      {}
func (NopObserver) ObservePoll(int, time.Duration, bool) {}
func (NopObserver) ObserveListenerReconnect()            {}
func (NopObserver) ObserveMalformedNotification()        {}
func (NopObserver) ObserveCollect(int, error)            {}
