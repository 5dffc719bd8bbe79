// Package constants holds the tunables shared across vela: file
// permissions, scan and cache lifetimes, the admission window and the
// thresholds the analyzer grades against.
package constants
