//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/netem/blob/061c5671b52a2c064cac1de5d464bb056f7ccaa8/unetstack.go
//

package linkem

import (
	"net"
	"strings"
	"syscall"
)

// errorsSuffixes maps the trailing text of gVisor error strings to the
// stdlib errors that callers of [net] interfaces expect to observe.
//
// gVisor's tcpip errors are not [syscall.Errno] values, so we match on
// the human-readable message instead. The message catalog lives in
// https://github.com/google/gvisor/blob/master/pkg/tcpip/errors.go and
// https://github.com/google/gvisor/blob/master/pkg/syserr/netstack.go
var errorsSuffixes = map[string]error{
	"endpoint is closed for receive": net.ErrClosed,
	"endpoint is closed for send":    net.ErrClosed,
	"connection aborted":             syscall.ECONNABORTED,
	"connection was refused":         syscall.ECONNREFUSED,
	"connection reset by peer":       syscall.ECONNRESET,
	"network is unreachable":         syscall.ENETUNREACH,
	"no route to host":               syscall.EHOSTUNREACH,
	"host is down":                   syscall.EHOSTDOWN,
	"machine is not on the network":  syscall.ENETDOWN,
	"operation timed out":            syscall.ETIMEDOUT,
	"endpoint is in invalid state":   syscall.EINVAL,
}

// errorsRemap rewrites a gVisor error as the equivalent stdlib error.
// When no rewriting applies, or err is nil, it returns err unchanged,
// so call sites may remap unconditionally.
func errorsRemap(err error) error {
	if err == nil {
		return nil
	}
	message := err.Error()
	for suffix, stderr := range errorsSuffixes {
		if strings.HasSuffix(message, suffix) {
			return stderr
		}
	}
	return err
}
