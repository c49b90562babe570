// Package constants holds the handful of cross-cutting string constants
// shared by the core packages.
package constants

// SystemChannel is the synthetic channel name cron and heartbeat publish
// their generated events onto, so they pass through policy, security, and
// the reply archive identically to real channel traffic. The outbound
// assembly stage re-routes a reply addressed to this channel back to the
// real channel encoded in its chat_id.
const SystemChannel = "system"

// internalChannels are never a real channel adapter's name and should never
// be treated as a routable destination or counted in channel-scoped stats.
var internalChannels = map[string]struct{}{
	SystemChannel: {},
}

// IsInternalChannel reports whether channel names synthetic core-internal
// traffic rather than a real channel adapter.
func IsInternalChannel(channel string) bool {
	_, ok := internalChannels[channel]
	return ok
}
