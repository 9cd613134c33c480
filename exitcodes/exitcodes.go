// Package exitcodes defines the standard exit codes used by op-summarizer.
package exitcodes

// Exit code constants used by op-summarizer
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every test of the run passed or was skipped
// * TestFailure (1): Used when one or more tests failed, or no tests were found
// * RuntimeErr (2): Used for runtime errors such as unreadable inputs or bad configuration
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures or an empty run
	RuntimeErr  = 2 // Runtime errors
)
