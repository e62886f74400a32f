// Package system provides the wall-clock implementation of directory.Clock.
package system

import "time"

// Clock returns the current UTC time.
type Clock struct{}

// Now implements directory.Clock.
func (Clock) Now() time.Time { return time.Now().UTC() }
