package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hakimelghazi/energy-exchange/internal/engine"
)

// Scenario is a scripted list of submissions and cancels.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one of Submit or Cancel.
type Step struct {
	Submit *SubmitStep `yaml:"submit"`
	Cancel *CancelStep `yaml:"cancel"`
}

type SubmitStep struct {
	User   string `yaml:"user"`
	Side   string `yaml:"side"`
	Mode   string `yaml:"mode"`
	Amount string `yaml:"amount"`
	Price  string `yaml:"price"`
}

type CancelStep struct {
	ID   int64  `yaml:"id"`
	User string `yaml:"user"`
}

func parseScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	for i, st := range sc.Steps {
		if (st.Submit == nil) == (st.Cancel == nil) {
			return nil, fmt.Errorf("step %d: exactly one of submit or cancel is required", i+1)
		}
	}
	return &sc, nil
}

func (s SubmitStep) request() (engine.SubmitRequest, error) {
	side, err := engine.ParseSide(s.Side)
	if err != nil {
		return engine.SubmitRequest{}, err
	}
	mode := engine.ModeLimit
	if s.Mode != "" {
		if mode, err = engine.ParseMode(s.Mode); err != nil {
			return engine.SubmitRequest{}, err
		}
	}
	amount, err := decimal.NewFromString(s.Amount)
	if err != nil {
		return engine.SubmitRequest{}, &engine.ValidationError{Field: "amount", Reason: err.Error()}
	}
	req := engine.SubmitRequest{User: s.User, Side: side, Mode: mode, Amount: amount}
	if s.Price != "" {
		p, err := decimal.NewFromString(s.Price)
		if err != nil {
			return engine.SubmitRequest{}, &engine.ValidationError{Field: "price", Reason: err.Error()}
		}
		req.Price = decimal.NewNullDecimal(p)
	}
	return req, nil
}

// play runs every step against eng and reports as it goes. Rejected steps
// are reported and skipped; anything else aborts the run.
func play(ctx context.Context, eng *engine.Engine, sc *Scenario, out io.Writer) error {
	if sc.Name != "" {
		fmt.Fprintf(out, "== %s ==\n", sc.Name)
	}
	for i, st := range sc.Steps {
		n := i + 1
		switch {
		case st.Submit != nil:
			req, err := st.Submit.request()
			if err == nil {
				var res *engine.MatchResult
				res, err = eng.SubmitOrder(ctx, req)
				if err == nil {
					fmt.Fprintf(out, "%2d submit %-6s %-4s %-6s %s @ %s -> order %d %s, %d trade(s), remaining %s\n",
						n, req.User, req.Side, req.Mode, req.Amount, priceText(req.Price), res.OrderID, res.Status, len(res.Trades), res.Remaining)
					continue
				}
			}
			if !rejected(err) {
				return fmt.Errorf("step %d: %w", n, err)
			}
			fmt.Fprintf(out, "%2d submit rejected: %v\n", n, err)

		case st.Cancel != nil:
			res, err := eng.CancelOrder(ctx, st.Cancel.ID, st.Cancel.User)
			if err != nil {
				if !rejected(err) {
					return fmt.Errorf("step %d: %w", n, err)
				}
				fmt.Fprintf(out, "%2d cancel %d rejected: %v\n", n, st.Cancel.ID, err)
				continue
			}
			fmt.Fprintf(out, "%2d cancel order %d -> %s, unfilled %s\n", n, res.OrderID, res.Status, res.Unfilled)
		}
	}
	return nil
}

func rejected(err error) bool {
	return errors.Is(err, engine.ErrValidation) || errors.Is(err, engine.ErrOrder)
}

func priceText(p decimal.NullDecimal) string {
	if !p.Valid {
		return "mkt"
	}
	return p.Decimal.String()
}

// report prints the trade tape and the state of every order.
func report(ctx context.Context, eng *engine.Engine, users []string, out io.Writer) error {
	trades, err := eng.TradeHistory(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTRADE\tBUY ORDER\tSELL ORDER\tBUYER\tSELLER\tAMOUNT\tPRICE")
	for _, tr := range trades {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			tr.ID, tr.BuyerOrderID, tr.SellerOrderID, tr.Buyer, tr.Seller, tr.Amount, tr.Price)
	}

	fmt.Fprintln(tw, "\nORDER\tUSER\tSIDE\tMODE\tPRICE\tAMOUNT\tREMAINING\tSTATUS\tTRADES")
	for _, u := range users {
		orders, err := eng.UserOrders(ctx, u)
		if err != nil {
			return err
		}
		for _, o := range orders {
			ids := make([]string, 0, len(o.TradeIDs))
			for _, id := range o.TradeIDs {
				ids = append(ids, fmt.Sprint(id))
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				o.ID, o.User, o.Side, o.Mode, o.Price, o.OriginalAmount, o.RemainingAmount, o.Status, strings.Join(ids, ","))
		}
	}
	return tw.Flush()
}

// users lists the submitting users in first-seen order.
func (sc *Scenario) users() []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range sc.Steps {
		if st.Submit == nil {
			continue
		}
		u := strings.TrimSpace(st.Submit.User)
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
