// SPDX-License-Identifier: GPL-3.0-or-later

package linkem

// Common MTU values that callers may pass to [NewPort].
const (
	// MTUEthernet is the standard Ethernet MTU.
	MTUEthernet = 1500

	// MTUMinimumIPv6 is the minimum MTU that IPv6 requires.
	MTUMinimumIPv6 = 1280

	// MTUJumbo is the MTU used by jumbo frames.
	MTUJumbo = 9000
)

// OpportunitySize is the number of bytes that a single trace entry
// allows the link to transmit. One entry, one MTU-sized opportunity.
const OpportunitySize = MTUEthernet
