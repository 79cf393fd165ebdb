//go:build devmode

package flow

// DevModeAvailable is true in builds tagged devmode
const DevModeAvailable = true
