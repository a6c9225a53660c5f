package core

// SummaryRow is one visible record fed to the summarizer: either a single
// installment/series row or an aggregate (an unexpanded invoice), in
// which case Children carries its installments and Amount is ignored.
type SummaryRow struct {
	Type     TransactionType
	Status   InstallmentStatus
	Amount   int64 // absolute minor units
	Children []SummaryRow
}

// Summary is the computed balance figures, all plain minor-unit integers.
type Summary struct {
	RealizedIncome   int64
	RealizedExpense  int64
	ProjectedIncome  int64
	ProjectedExpense int64
	AccountBalance   int64
	FinalProjection  int64
}

// Summarize partitions the visible record set by (status, type) on top of
// the tenant's account balance. Realized covers paid rows, projected
// covers pending and posted ones; transfers move money between own
// accounts and contribute nothing. FinalProjection is the account balance
// plus the signed sum of every visible row.
//
// The input is whatever subset is currently visible after filtering and
// pagination, not a whole-tenant aggregate; callers recompute whenever
// that set changes.
func Summarize(accountBalance int64, visible []SummaryRow) Summary {
	s := Summary{AccountBalance: accountBalance}
	for _, row := range visible {
		addRow(&s, row)
	}
	s.FinalProjection = s.AccountBalance +
		s.RealizedIncome + s.ProjectedIncome -
		s.RealizedExpense - s.ProjectedExpense
	return s
}

func addRow(s *Summary, row SummaryRow) {
	if len(row.Children) > 0 {
		// Aggregate rows contribute the sum of their children.
		for _, child := range row.Children {
			addRow(s, child)
		}
		return
	}
	if row.Type == Transfer {
		return
	}
	amount := row.Amount
	if amount < 0 {
		amount = -amount
	}
	switch row.Status {
	case InstallmentPaid:
		if row.Type == Income {
			s.RealizedIncome += amount
		} else {
			s.RealizedExpense += amount
		}
	case InstallmentPending, InstallmentPosted:
		if row.Type == Income {
			s.ProjectedIncome += amount
		} else {
			s.ProjectedExpense += amount
		}
	}
}
