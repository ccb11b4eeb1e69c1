// Package notify delivers terminal workflow outcomes to operators. The
// transport is ntfy; the configured recipient list rides along as the ntfy
// email forwarding header. Failure messages carry the tail of the
// accumulated workflow log.
package notify
