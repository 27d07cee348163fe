// Package storage reads the agent population and appends the post audit log.
//
// Two drivers are available:
//   - "file": agents from a YAML/JSON list, posts appended to <dir>/tweets.csv
//   - "sqlite": agents and posts tables in one SQLite database file
package storage
