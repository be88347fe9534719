// Package command is the gate every device command passes through
// before reaching hardware.
//
// A command arrives with a single-use action token. The gateway
// consumes the token, checks sandbox admission, and then either
// dispatches over the broker or defers the job when the device cannot
// take it (a printer that is out of paper). Consuming the token before
// admission means a rejected command can never be replayed.
package command
