// Package aggregate derives read-only plan summaries and reports from a
// consistent snapshot. Nothing here touches the store.
package aggregate

import (
	"sort"

	"github.com/sells-group/lifecare-cli/internal/model"
)

func newCounts() map[model.ApprovalStatus]int {
	counts := make(map[model.ApprovalStatus]int, len(model.Statuses))
	for _, s := range model.Statuses {
		counts[s] = 0
	}
	return counts
}

// percent returns part/total as a percentage, 0 for an empty plan.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// AdjustedAnnualCost returns the geographically adjusted annual cost of an
// item. Items that were never projected fall back to the base annual cost.
func AdjustedAnnualCost(it *model.ResearchItem) float64 {
	if it.Projection != nil {
		return it.Projection.AdjustedAnnualCost
	}
	return it.BaseAnnualCost
}

// PresentValue returns the projected present value of an item, 0 when it
// has not been projected.
func PresentValue(it *model.ResearchItem) float64 {
	if it.Projection == nil {
		return 0
	}
	return it.Projection.TotalPresentValue
}

// Completion reports review progress. A plan is ready for finalization iff
// nothing is pending or needs review; an empty plan is trivially ready.
func Completion(snap model.PlanSnapshot) model.Completion {
	counts := newCounts()
	var open []model.UnresolvedItem
	for i := range snap.Items {
		it := &snap.Items[i]
		counts[it.Status]++
		if !it.Status.Resolved() {
			open = append(open, model.UnresolvedItem{ItemID: it.ID, Name: it.Name, Status: it.Status})
		}
	}
	return model.Completion{
		PlanID:               snap.Plan.ID,
		Total:                len(snap.Items),
		StatusCounts:         counts,
		CompletionPercentage: percent(counts[model.StatusApproved], len(snap.Items)),
		ReadyForFinalization: counts[model.StatusPending] == 0 && counts[model.StatusNeedsReview] == 0,
		Unresolved:           open,
	}
}

// Summarize totals a plan. Every item is counted by status; only approved
// items contribute money.
func Summarize(snap model.PlanSnapshot) model.Summary {
	sum := model.Summary{
		PlanID:       snap.Plan.ID,
		Total:        len(snap.Items),
		StatusCounts: newCounts(),
	}

	byCat := make(map[model.Category]*model.CategoryBreakdown)
	for i := range snap.Items {
		it := &snap.Items[i]
		sum.StatusCounts[it.Status]++

		cb, ok := byCat[it.Category]
		if !ok {
			cb = &model.CategoryBreakdown{
				Category:     it.Category,
				Label:        it.Category.Label(),
				StatusCounts: newCounts(),
			}
			byCat[it.Category] = cb
		}
		cb.StatusCounts[it.Status]++

		if it.Status != model.StatusApproved {
			continue
		}
		annual := AdjustedAnnualCost(it)
		pv := PresentValue(it)
		sum.ApprovedAnnualTotal += annual
		sum.ApprovedPresentValueTotal += pv
		cb.ApprovedAnnualTotal += annual
		cb.ApprovedPresentValueTotal += pv
	}

	sum.CompletionPercentage = percent(sum.StatusCounts[model.StatusApproved], sum.Total)

	sum.PerCategory = make([]model.CategoryBreakdown, 0, len(byCat))
	for _, cb := range byCat {
		sum.PerCategory = append(sum.PerCategory, *cb)
	}
	sort.Slice(sum.PerCategory, func(i, j int) bool {
		return sum.PerCategory[i].Category < sum.PerCategory[j].Category
	})
	return sum
}
