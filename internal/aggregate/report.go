package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// BuildReport assembles the export view of a plan. Approved items make up
// the body; everything else goes to the appendix and never reaches the
// approved totals.
func BuildReport(snap model.PlanSnapshot, at time.Time) model.Report {
	r := model.Report{
		Plan:          snap.Plan,
		Summary:       Summarize(snap),
		ApprovedItems: []model.ResearchItem{},
		Appendix: model.ReportAppendix{
			Rejected:    []model.ResearchItem{},
			NeedsReview: []model.ResearchItem{},
			Pending:     []model.ResearchItem{},
		},
		GeneratedAt: at,
	}
	for i := range snap.Items {
		it := snap.Items[i].Clone()
		switch it.Status {
		case model.StatusApproved:
			r.ApprovedItems = append(r.ApprovedItems, it)
		case model.StatusRejected:
			r.Appendix.Rejected = append(r.Appendix.Rejected, it)
		case model.StatusNeedsReview:
			r.Appendix.NeedsReview = append(r.Appendix.NeedsReview, it)
		default:
			r.Appendix.Pending = append(r.Appendix.Pending, it)
		}
	}
	return r
}

// FormatReport renders a report as Markdown for reviewers.
func FormatReport(r model.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Life Care Plan: %s\n", r.Plan.CaseID)
	fmt.Fprintf(&b, "Plan ID: %s\n", r.Plan.ID)
	fmt.Fprintf(&b, "Status: %s\n", r.Plan.Status)
	if r.Plan.CompletedAt != nil {
		fmt.Fprintf(&b, "Finalized: %s by %s (signed %q)\n",
			r.Plan.CompletedAt.Format(time.RFC3339), r.Plan.FinalizedBy, r.Plan.Signature)
	}
	b.WriteString("\n")

	p := r.Plan.Params
	b.WriteString("## Assumptions\n")
	if p.Location != "" {
		fmt.Fprintf(&b, "- Location: %s\n", p.Location)
	}
	fmt.Fprintf(&b, "- Geographic factor: %.3f\n", p.GeographicFactor)
	fmt.Fprintf(&b, "- Inflation: %.2f%%\n", p.InflationRate*100)
	fmt.Fprintf(&b, "- Discount: %.2f%%\n", p.DiscountRate*100)
	fmt.Fprintf(&b, "- Duration: %d years\n\n", p.DurationYears)

	s := r.Summary
	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Items: %d (%d approved, %d rejected, %d needs review, %d pending)\n",
		s.Total, s.StatusCounts[model.StatusApproved], s.StatusCounts[model.StatusRejected],
		s.StatusCounts[model.StatusNeedsReview], s.StatusCounts[model.StatusPending])
	fmt.Fprintf(&b, "- Completion: %.1f%%\n", s.CompletionPercentage)
	fmt.Fprintf(&b, "- Approved annual total: $%.2f\n", s.ApprovedAnnualTotal)
	fmt.Fprintf(&b, "- Approved present value: $%.2f\n\n", s.ApprovedPresentValueTotal)

	b.WriteString("## Approved Items\n")
	if len(r.ApprovedItems) == 0 {
		b.WriteString("No approved items.\n\n")
	} else {
		for _, cb := range s.PerCategory {
			if cb.StatusCounts[model.StatusApproved] == 0 {
				continue
			}
			fmt.Fprintf(&b, "### %s ($%.2f/yr, PV $%.2f)\n", cb.Label, cb.ApprovedAnnualTotal, cb.ApprovedPresentValueTotal)
			for i := range r.ApprovedItems {
				it := &r.ApprovedItems[i]
				if it.Category != cb.Category {
					continue
				}
				fmt.Fprintf(&b, "- **%s**: $%.2f x %.2f/yr = $%.2f/yr, PV $%.2f\n",
					it.Name, it.UnitCost, it.AnnualUnits, AdjustedAnnualCost(it), PresentValue(it))
				if it.DoctorNotes != "" {
					fmt.Fprintf(&b, "  Notes: %s\n", it.DoctorNotes)
				}
			}
		}
		b.WriteString("\n")
	}

	writeAppendix(&b, "Rejected", r.Appendix.Rejected)
	writeAppendix(&b, "Needs Review", r.Appendix.NeedsReview)
	writeAppendix(&b, "Pending", r.Appendix.Pending)

	fmt.Fprintf(&b, "---\nGenerated %s\n", r.GeneratedAt.Format(time.RFC3339))
	return b.String()
}

func writeAppendix(b *strings.Builder, title string, items []model.ResearchItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## Appendix: %s\n", title)
	for i := range items {
		it := &items[i]
		fmt.Fprintf(b, "- %s (%s)", it.Name, it.Category.Label())
		if it.DoctorNotes != "" {
			fmt.Fprintf(b, ": %s", it.DoctorNotes)
		}
		if it.FollowUpRequired {
			b.WriteString(" [follow-up]")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}
