package engine

type CommandType int

const (
	CmdPlace CommandType = iota
	CmdCancel
	CmdOpenOrders
	CmdUserOrders
	CmdGetOrder
	CmdDepth
)

type Command struct {
	Type   CommandType
	Spec   orderSpec  // used when Type == CmdPlace
	ID     int64      // CmdCancel, CmdGetOrder
	User   string     // CmdCancel, CmdUserOrders
	Levels int        // CmdDepth
	Resp   chan reply // engine sends the result back here
}

type reply struct {
	value any
	err   error
}
