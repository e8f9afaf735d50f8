// Package errors provides the oxd error taxonomy and the typed error that
// carries it across the daemon.
//
// # Taxonomy
//
// Every failure the daemon reports belongs to exactly one [Kind]. Each kind
// maps to an [Entry] holding the HTTP status, the short machine code sent
// on the wire, and a human message. The table is closed and ordered:
//
//   - Kinds are unique. Codes are not: several kinds deliberately share
//     "bad_request", "invalid_algorithm", "invalid_request" and others.
//   - [LookupByCode] is case-insensitive and returns the first match in
//     table order, or false. There is no default entry.
//   - [Entries] enumerates the table for documentation.
//
// # Categories
//
// Kinds fall into request (400), authorization (403), token validation
// (500), upstream (500, retryable) and internal (500) categories. Token
// validation failures keep status 500 for wire compatibility with existing
// oxd clients.
//
// # Usage
//
// Raise a kind:
//
//	return errors.New(errors.KindBlankAccessToken)
//
// Wrap an underlying failure:
//
//	return errors.Wrap(err, errors.KindFailedToGetDiscovery)
//
// Inspect:
//
//	if errors.HasKind(err, errors.KindInvalidOxdID) {
//	    // unregistered site
//	}
package errors
