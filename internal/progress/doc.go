// Package progress implements worksheet autosave and phase progress aggregation.
//
// An exercise screen owns an EditBuffer holding its form state and a SaveController
// that turns buffer changes into debounced upserts against a Store. Each controller
// is scoped to one (phase, worksheet) Key and allows at most one in-flight upsert for
// that key. Dashboards use PhaseExercises to merge a static exercise catalog with the
// stored records and derive completion percentages.
//
// Persistence is last-write-wins. Concurrent edits from several devices are not
// merged and no edit history is kept, only the latest snapshot per worksheet.
package progress
