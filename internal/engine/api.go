package engine

import "context"

// Depth is an aggregated view of both sides of the book.
type Depth struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// SubmitOrder validates req, then queues it for matching. A *ValidationError
// is returned synchronously and leaves the engine untouched.
func (e *Engine) SubmitOrder(ctx context.Context, req SubmitRequest) (*MatchResult, error) {
	spec, err := req.spec()
	if err != nil {
		e.metrics.Rejected("validation")
		e.log.Debug("submission rejected", "user", req.User, "error", err)
		return nil, err
	}
	v, err := e.do(ctx, Command{Type: CmdPlace, Spec: spec})
	if err != nil {
		return nil, err
	}
	return v.(*MatchResult), nil
}

// CancelOrder cancels a resting order on behalf of its owner. Orders that
// already completed report CodeAlreadyFilled and are left as they are.
func (e *Engine) CancelOrder(ctx context.Context, id int64, user string) (*CancelResult, error) {
	v, err := e.do(ctx, Command{Type: CmdCancel, ID: id, User: user})
	if err != nil {
		return nil, err
	}
	return v.(*CancelResult), nil
}

// OpenOrders returns snapshots of every resting order in priority order.
func (e *Engine) OpenOrders(ctx context.Context) ([]Order, error) {
	v, err := e.do(ctx, Command{Type: CmdOpenOrders})
	if err != nil {
		return nil, err
	}
	return v.([]Order), nil
}

// TradeHistory returns every trade executed so far.
func (e *Engine) TradeHistory(ctx context.Context) ([]Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.ledger.History(), nil
}

// UserOrders returns every order a user submitted, oldest first.
func (e *Engine) UserOrders(ctx context.Context, user string) ([]Order, error) {
	v, err := e.do(ctx, Command{Type: CmdUserOrders, User: user})
	if err != nil {
		return nil, err
	}
	return v.([]Order), nil
}

func (e *Engine) Order(ctx context.Context, id int64) (Order, error) {
	v, err := e.do(ctx, Command{Type: CmdGetOrder, ID: id})
	if err != nil {
		return Order{}, err
	}
	return v.(Order), nil
}

// BookDepth aggregates up to levels price levels per side; 0 means all.
func (e *Engine) BookDepth(ctx context.Context, levels int) (Depth, error) {
	v, err := e.do(ctx, Command{Type: CmdDepth, Levels: levels})
	if err != nil {
		return Depth{}, err
	}
	return v.(Depth), nil
}

// Reconcile replays journaled batches into the store. It is safe to call
// while the engine runs.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	return e.ledger.Reconcile(ctx)
}

// do queues cmd and waits for its reply. A command that made it onto the
// queue still runs if ctx is cancelled afterwards. A ctx that is already done
// never queues anything.
func (e *Engine) do(ctx context.Context, cmd Command) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd.Resp = make(chan reply, 1)
	select {
	case e.cmds <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrClosed
	}

	select {
	case r := <-cmd.Resp:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		select {
		case r := <-cmd.Resp:
			return r.value, r.err
		default:
			return nil, ErrClosed
		}
	}
}
