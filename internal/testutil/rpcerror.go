package testutil

// RPCError is a JSON-RPC style error carrying a code.
type RPCError struct {
	Code int
	Msg  string
}

func (e *RPCError) Error() string { return e.Msg }
func (e *RPCError) ErrorCode() int { return e.Code }
