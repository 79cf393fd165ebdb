//go:build !devmode

package flow

// DevModeAvailable is false unless built with -tags devmode
const DevModeAvailable = false
