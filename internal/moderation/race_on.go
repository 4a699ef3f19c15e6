//go:build race

package moderation

// raceDetectorEnabled relaxes latency assertions in tests when the race
// detector's instrumentation overhead is in play.
const raceDetectorEnabled = true
