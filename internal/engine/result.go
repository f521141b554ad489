package engine

// ResultKind tags a LegResult as success or failure so callers must handle
// both branches explicitly.
type ResultKind int

const (
	ResultSuccess ResultKind = iota + 1
	ResultFailure
)

// LegResult is the outcome of a processor invocation.
type LegResult struct {
	Kind      ResultKind
	CycleID   string
	NextPhase Phase
	Reason    string // set only on failure
}

// Success reports whether the result is a success.
func (r LegResult) Success() bool { return r.Kind == ResultSuccess }
