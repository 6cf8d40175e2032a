package failover

import "fmt"

// State is the position of the engine inside a check cycle.
type State int

const (
	StateIdle State = iota
	StateScanningInterfaces
	StateTryingRule
	StateConnectingInterface
	StateVerifying
	StateConnected
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanningInterfaces:
		return "scanning_interfaces"
	case StateTryingRule:
		return "trying_rule"
	case StateConnectingInterface:
		return "connecting_interface"
	case StateVerifying:
		return "verifying"
	case StateConnected:
		return "connected"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
