// Package durationx defines the shared "never expires" duration sentinel
// used by both the cache and storage backends whose values are
// inherently static (spec §3: "the sentinel INT64_MAX means 'never
// expires'").
package durationx

import "time"

// Inf is the sentinel duration meaning "never expires".
const Inf = time.Duration(1<<63 - 1)
