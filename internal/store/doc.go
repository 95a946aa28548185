// Package store persists courses, lectures, transcripts, notes, and frames
// in SQLite and enforces the per-axis status transition rules.
package store
