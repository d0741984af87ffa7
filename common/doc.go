// Package common provides shared constants, sentinel errors, small
// interfaces, and the application logger used throughout vpn-pool.
//
// # Usage
//
//	common.LogInfo("Connecting using profile: %s", id)
//
//	if errors.Is(err, common.ErrNoAvailableProfile) {
//	    // every profile is in use
//	}
//
// The logger writes to stdout and, when enabled, to a size-rotated file
// in the configured log directory.
package common
