package flowtable

import "github.com/of83/datapath/action"

// hasOutputPort reports whether actions contains an Output step targeting
// port, used by DeleteFilter.OutPort (SPEC_FULL.md §6 supplement).
func hasOutputPort(actions []action.Action, port uint16) bool {
	for _, a := range actions {
		if a.Kind == action.Output && a.Port == port {
			return true
		}
	}
	return false
}
