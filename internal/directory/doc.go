// Package directory maps service and group names to the numeric ids used for
// addressing.
//
// Ownership boundary:
// - Registry: the responder-side table of registered services, answering
//   control requests
// - Resolver: the requester-side lookup, one blocking round trip per call
//
// Both speak the control service (id 0x10) with the same frame and attribute
// codecs as every other service.
package directory
