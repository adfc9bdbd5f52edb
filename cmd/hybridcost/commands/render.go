package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/scheduler"
	"github.com/DrSkyle/hybridcost/pkg/storage"
	"github.com/DrSkyle/hybridcost/pkg/tco"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(label), valueStyle.Render(value))
}

func categoryNames(cs []pricing.Category) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func renderSnapshot(w io.Writer, s *pricing.Snapshot) {
	fmt.Fprintln(w, titleStyle.Render("PRICING SNAPSHOT")+" "+badge(s.Provenance))
	field(w, "ID", s.ID)
	field(w, "Captured", s.CapturedAt.Format(time.RFC3339))
	if s.DerivedFrom != "" {
		field(w, "Derived from", s.DerivedFrom)
	}
	if fb := s.FallbackCategories(); len(fb) > 0 {
		field(w, "Static", warning.Render(categoryNames(fb)))
	}
	fmt.Fprintln(w)

	for _, c := range pricing.Categories {
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(strings.ToUpper(string(c))), dimStyle.Render(string(s.Source(c))))
		for key, price := range s.Prices(c).All() {
			fmt.Fprintf(&b, "%-22s %s\n", key, price)
		}
		fmt.Fprintln(w, cardStyle.Render(strings.TrimRight(b.String(), "\n")))
	}
}

func renderCycle(w io.Writer, res scheduler.Result) {
	fmt.Fprintln(w, titleStyle.Render("PRICING CYCLE")+" "+badge(res.Provenance))
	field(w, "Cycle", res.ID)
	field(w, "State", string(res.State))
	field(w, "Attempts", fmt.Sprint(res.Attempts))
	field(w, "Duration", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String())
	field(w, "Snapshot", res.SnapshotID)
	if res.CachedUsed {
		field(w, "Cached", "reused last stored snapshot")
	}
	if len(res.FailedCategories) > 0 {
		field(w, "Failed", warning.Render(categoryNames(res.FailedCategories)))
	}
	if res.Err != nil {
		field(w, "Error", warning.Render(res.Err.Error()))
	}
}

type historyView struct {
	From      time.Time           `json:"from"`
	To        time.Time           `json:"to"`
	Snapshots []*pricing.Snapshot `json:"snapshots"`
	Trend     storage.Trend       `json:"trend"`
}

func renderHistory(w io.Writer, h historyView) {
	fmt.Fprintln(w, titleStyle.Render("PRICING HISTORY"))
	field(w, "Window", h.From.Format(time.RFC3339)+" .. "+h.To.Format(time.RFC3339))
	field(w, "Snapshots", fmt.Sprint(len(h.Snapshots)))
	fmt.Fprintln(w)

	for _, s := range h.Snapshots {
		line := fmt.Sprintf("  %s  %s  %s", s.CapturedAt.Format(time.RFC3339), s.ID, badge(s.Provenance))
		if fb := s.FallbackCategories(); len(fb) > 0 && len(fb) < len(pricing.Categories) {
			line += " " + dimStyle.Render("static: "+categoryNames(fb))
		}
		fmt.Fprintln(w, line)
	}

	if len(h.Trend.Keys) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("TREND")+" "+dimStyle.Render(fmt.Sprintf("%d live observations", h.Trend.Observations)))
	for _, kt := range h.Trend.Keys {
		if kt.Change.IsZero() {
			continue
		}
		fmt.Fprintf(w, "  %-14s %-22s %s -> %s\n", kt.Category, kt.Key, kt.First, kt.Last)
	}
	for _, a := range h.Trend.Alerts {
		fmt.Fprintln(w, warning.Render("  ALERT "+a))
	}
}

func renderEstimate(w io.Writer, est *tco.Estimate) {
	fmt.Fprintln(w, titleStyle.Render("AWS ESTIMATE")+" "+badge(est.Provenance))
	field(w, "Snapshot", est.SnapshotID)
	if len(est.FallbackCategories) > 0 {
		field(w, "Static", warning.Render(categoryNames(est.FallbackCategories)))
	}
	if !est.ComputeDiscount.Equal(decimal.NewFromInt(1)) {
		field(w, "EC2 factor", est.ComputeDiscount.String())
	}
	fmt.Fprintln(w)

	for _, it := range est.Items {
		fmt.Fprintf(w, "  %-14s %-16s %12s x %-8s = %s/mo\n",
			it.Category, it.Key, it.Quantity.StringFixed(1), it.Rate, it.Monthly.StringFixed(2))
	}
	for _, m := range est.Missing {
		fmt.Fprintln(w, warning.Render("  no price for "+m.String()))
	}
	fmt.Fprintln(w)
	field(w, "Monthly", "$"+est.Monthly.StringFixed(2))
	field(w, "Total", fmt.Sprintf("$%s over %d years", est.Total.StringFixed(2), est.Years))
}

func renderComparison(w io.Writer, cmp *tco.Comparison) {
	renderEstimate(w, cmp.AWS)
	fmt.Fprintln(w)

	op := cmp.OnPrem
	fmt.Fprintln(w, titleStyle.Render("ON-PREMISES ESTIMATE"))
	for _, it := range op.Items {
		amount, when := it.Annual, "/yr"
		if it.OneTime {
			amount, when = it.Amount, " once"
		}
		fmt.Fprintf(w, "  %-14s %-44s %12s%s\n", it.Category, it.Description, amount.StringFixed(2), when)
	}
	fmt.Fprintln(w)
	field(w, "Upfront", "$"+op.Upfront.StringFixed(2))
	field(w, "Annual", "$"+op.Annual.StringFixed(2))
	field(w, "Total", fmt.Sprintf("$%s over %d years", op.Total.StringFixed(2), op.Years))
	fmt.Fprintln(w)

	fmt.Fprintln(w, titleStyle.Render("PROJECTION"))
	fmt.Fprintf(w, "  %-6s %14s %14s %14s\n", "year", "on-prem", "aws", "savings")
	for _, y := range cmp.Projection {
		savings := y.Savings.StringFixed(2)
		if y.Savings.IsNegative() {
			savings = warning.Render(savings)
		}
		fmt.Fprintf(w, "  %-6d %14s %14s %14s\n", y.Year, y.OnPrem.StringFixed(2), y.AWS.StringFixed(2), savings)
	}
	fmt.Fprintln(w)
	field(w, "Cheaper", string(cmp.Cheaper))
	if cmp.BreakEvenYear > 0 {
		field(w, "Break-even", fmt.Sprintf("hardware pays off in year %d", cmp.BreakEvenYear))
	}
}
