// Package stores persists resource state and event timelines in SQLite.
// Schema changes are applied from embedded migrations.
package stores
