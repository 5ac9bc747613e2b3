package client

// Signals feeds host-environment transitions into the manager. A hidden
// host pauses heartbeats and reconnection attempts; an offline host pauses
// everything until the online signal returns. Nil channels mean the host
// never reports that signal.
type Signals struct {
	// Visibility receives true when the host page/application is
	// foregrounded and false when it is hidden.
	Visibility <-chan bool
	// Online receives true when the network becomes available and false
	// when it is lost.
	Online <-chan bool
}
