package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"porecon/internal"
	"porecon/internal/intake"
	"porecon/internal/util"
)

var errInputClosed = errors.New("review input closed")

// resolveReviews answers hybrid-mode reviews from in until done is closed.
// It keeps running after an interrupt because the worker cannot stop while
// a review is pending.
func resolveReviews(desk *intake.ReviewDesk, in io.Reader, out io.Writer, done <-chan struct{}) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-done:
			return
		case _, ok := <-lines:
			if !ok {
				return
			}
			fmt.Fprintln(out, "no review pending, input ignored")
			continue
		case <-desk.Ready():
		}
		req := desk.Pending()
		if req == nil {
			continue
		}
		if !discardPending(lines) {
			fmt.Fprintf(out, "review prompt stopped: %v\n", errInputClosed)
			return
		}
		decision, err := promptDecision(req, lines, out)
		if err != nil {
			fmt.Fprintf(out, "review prompt stopped: %v\n", err)
			return
		}
		if err := desk.Resolve(req.ID, decision); err != nil {
			fmt.Fprintf(out, "resolve review: %v\n", err)
		}
	}
}

// discardPending drops lines typed before the prompt was shown. It reports
// false once the input is closed.
func discardPending(lines <-chan string) bool {
	for {
		select {
		case _, ok := <-lines:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func promptDecision(req *intake.ReviewRequest, lines <-chan string, out io.Writer) (intake.Decision, error) {
	p := req.Payload
	fmt.Fprintf(out, "\nReview needed: %s (supplier %s) green=%d yellow=%d red=%d\n",
		p.File, p.Supplier, p.Stats.Green, p.Stats.Yellow, p.Stats.Red)
	renderMatchRows(out, p.Rows)
	fmt.Fprintln(out, `For each row enter a warehouse code, "." to accept the suggestion, or nothing to skip.`)

	var decision intake.Decision
	for i, row := range p.Rows {
		if row.Flag == internal.FlagGreen {
			continue
		}
		suggested := util.DerefString(row.WarehouseCode)
		fmt.Fprintf(out, "[%d] %s (%s): ", i+1, row.SKU, orDash(suggested))
		line, ok := <-lines
		if !ok {
			return intake.Decision{}, errInputClosed
		}
		code := strings.TrimSpace(line)
		if code == "." {
			code = suggested
		}
		if code == "" || strings.TrimSpace(row.SKU) == "" {
			continue
		}
		decision.Mappings = append(decision.Mappings, internal.Mapping{
			Supplier:      p.Supplier,
			SupplierSKU:   row.SKU,
			WarehouseCode: code,
		})
	}

	for {
		fmt.Fprint(out, "Then [requeue]/archive/hold: ")
		line, ok := <-lines
		if !ok {
			return intake.Decision{}, errInputClosed
		}
		action, err := intake.ParseAction(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		decision.Action = action
		return decision, nil
	}
}

func renderMatchRows(out io.Writer, rows []internal.MatchRow) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Flag", "Score", "SKU", "Code", "Description"})
	table.SetAutoWrapText(false)
	for i, r := range rows {
		table.Append([]string{
			strconv.Itoa(i + 1),
			string(r.Flag),
			strconv.Itoa(r.Score),
			r.SKU,
			orDash(util.DerefString(r.WarehouseCode)),
			r.Description,
		})
	}
	table.Render()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
