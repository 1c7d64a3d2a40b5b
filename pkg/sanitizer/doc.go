// Package sanitizer normalizes request input before validation and storage.
//
// All functions are idempotent. Identifiers are opaque and case sensitive,
// so only surrounding whitespace and invisible characters are removed;
// lifecycle statuses are folded to lower case.
package sanitizer
