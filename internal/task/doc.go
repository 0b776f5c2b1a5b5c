// Package task provides the domain types shared by every other cadence package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import task; task imports nothing internal.
//
// Key design constraints:
//   - Group, Template and Instance are distinct variants of the sealed Entity
//     interface. Only Template has a FrequencyConfig, so an Instance carrying a
//     frequency cannot be constructed.
//   - Record is the flat storage row. FromRecord rejects rows that would decode
//     into an illegal variant.
//   - Instance identity within a template is its DayKey (calendar day in UTC),
//     never the raw timestamp.
//   - All JSON tags use camelCase to match the frequency descriptor produced
//     by the calendar picker.
package task
