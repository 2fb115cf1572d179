// Package discovery implements DNS-SD (mDNS) advertising and browsing
// for pairing endpoints.
//
// This package provides:
//   - Advertiser: publishes a pairing listener as a _pairtls._tcp
//     service instance
//   - Browser: finds pairing endpoints on the local network by
//     browsing or by instance name lookup
//
// Both are backed by grandcat/zeroconf. The MDNSServerFactory and
// MDNSResolverFactory interfaces let tests substitute mocks so no real
// network I/O is required.
package discovery

// ServicePairing is the DNS-SD service type for pairing endpoints.
const ServicePairing = "_pairtls._tcp"

// DefaultDomain is the default mDNS domain.
const DefaultDomain = "local."

// DefaultPort is the default pairing listener port.
const DefaultPort = 7321
