package hotplug

import "errors"

var (
	// ErrAlreadyStarted is returned by a second Monitor.Start
	ErrAlreadyStarted = errors.New("monitor already started")

	// ErrListenerClosed is returned when a listener stops delivering events on its own
	ErrListenerClosed = errors.New("hotplug listener closed")

	// ErrMalformedUevent is returned for datagrams that are not uevents
	ErrMalformedUevent = errors.New("malformed uevent")
)
