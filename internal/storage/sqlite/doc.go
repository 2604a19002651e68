// Package sqlite persists tuning runs and their iterations so results can be
// listed and compared across invocations. The schema is versioned with
// golang-migrate using migrations embedded in the binary.
package sqlite
