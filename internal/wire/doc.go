// Package wire implements the compact "bel" delivery format and the query
// string encoding used to talk to the collector.
//
// A bel payload is a version tag followed by records separated by ';'. Fields
// inside a record are separated by ','. Numbers are floored and written in
// base 36, strings are interned in a per-payload table, and custom attributes
// are written as (type, key, value) triples. The collector parses the format
// positionally, so every helper here is part of the wire contract.
package wire
