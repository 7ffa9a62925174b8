package ledger

import (
	"sort"

	"github.com/brokersoft/backoffice/internal/models"
)

// Summarize reduces a full entry set to per-account totals. For each account:
// total debit, total credit, and the closing balance taken from the last entry
// in Seq order rather than recomputed from the totals, so rows with
// non-standard sign combinations still reconcile with the poster's own running
// value. Pure; safe to run against a snapshot while postings continue.
func Summarize(entries []models.LedgerEntry) []models.PartySummaryRow {
	ordered := append([]models.LedgerEntry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Seq < ordered[j].Seq
	})

	byAccount := map[string]*models.PartySummaryRow{}
	order := []string{}
	for _, e := range ordered {
		row, ok := byAccount[e.AccountCode]
		if !ok {
			row = &models.PartySummaryRow{AccountCode: e.AccountCode}
			byAccount[e.AccountCode] = row
			order = append(order, e.AccountCode)
		}
		row.TotalDebit = row.TotalDebit.Add(e.Debit)
		row.TotalCredit = row.TotalCredit.Add(e.Credit)
		row.ClosingBalance = e.Balance
		row.Entries++
	}

	sort.Strings(order)
	out := make([]models.PartySummaryRow, 0, len(order))
	for _, code := range order {
		out = append(out, *byAccount[code])
	}
	return out
}
