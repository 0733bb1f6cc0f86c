// Package id generates identifiers for observer sessions.
//
// UUID returns a time-ordered UUID (version 7), so session IDs sort by
// connect time in logs. Random returns a version 4 UUID for when ordering
// would leak timing.
package id
