package common

import "time"

const (
	BlockMirrorTTL   = 1 * time.Minute
	StoreCallTimeout = 50 * time.Millisecond

	MonitoredHeader   = "X-AbuseGate-Monitored"
	MFARequiredHeader = "X-AbuseGate-MFA-Required"

	// ActorIDHeader carries the authenticated actor identity, set by the
	// application in front of the engine.
	ActorIDHeader = "X-Actor-ID"
)
