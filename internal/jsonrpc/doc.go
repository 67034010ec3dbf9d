// Package jsonrpc provides the JSON-RPC 2.0 data model used on the wire
// between the harness and the server under test.
//
// This package contains types and codecs only. Every other internal package
// imports jsonrpc; jsonrpc imports nothing internal.
//
// Key design constraints:
//   - Envelopes keep id, params and result as raw JSON so that presence
//     ("id": null vs. no id) and the exact wire form survive decoding
//   - Request ids are correlated by structural identity (ID.Key), never by
//     loose equality: the string "1" and the number 1 are different ids
//   - Framing is newline-delimited; LineDecoder carries partial tails over
//     between reads
package jsonrpc
