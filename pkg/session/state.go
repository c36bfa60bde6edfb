package session

// State represents the position of a session in the call sequence.
type State int

const (
	// StateCreated means the session exists but no schema has been bound.
	StateCreated State = iota

	// StateSchemaBound means at least one column or parameter is declared.
	StateSchemaBound

	// StateExecuted means the executor ran and its output is held unencoded
	// or encoded but not yet fetched.
	StateExecuted

	// StateResultsServed means the output buffers were handed out.
	StateResultsServed

	// StateParamsServed means at least one output parameter was handed out.
	StateParamsServed

	// StateTerminated means the session was cleaned up.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSchemaBound:
		return "schema-bound"
	case StateExecuted:
		return "executed"
	case StateResultsServed:
		return "results-served"
	case StateParamsServed:
		return "params-served"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Operations checked against the state table.
const (
	opInitColumn       = "InitColumn"
	opInitParam        = "InitParam"
	opExecute          = "Execute"
	opDescribeColumn   = "DescribeColumn"
	opFetchResults     = "FetchResults"
	opFetchOutputParam = "FetchOutputParam"
	opCleanup          = "Cleanup"
)

// allowed lists the states each operation may be issued in.
var allowed = map[string][]State{
	opInitColumn:       {StateCreated, StateSchemaBound},
	opInitParam:        {StateCreated, StateSchemaBound},
	opExecute:          {StateCreated, StateSchemaBound, StateExecuted, StateResultsServed},
	opDescribeColumn:   {StateExecuted, StateResultsServed},
	opFetchResults:     {StateExecuted, StateResultsServed},
	opFetchOutputParam: {StateResultsServed, StateParamsServed},
	opCleanup: {StateCreated, StateSchemaBound, StateExecuted, StateResultsServed,
		StateParamsServed},
}

// next is the state an operation moves to on success. Operations absent
// from the map leave the state unchanged.
var next = map[string]State{
	opInitColumn:       StateSchemaBound,
	opInitParam:        StateSchemaBound,
	opExecute:          StateExecuted,
	opFetchResults:     StateResultsServed,
	opFetchOutputParam: StateParamsServed,
	opCleanup:          StateTerminated,
}

// Allows reports whether op may be issued in state s.
func (s State) Allows(op string) bool {
	for _, st := range allowed[op] {
		if st == s {
			return true
		}
	}
	return false
}
