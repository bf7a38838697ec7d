package domain

import (
	"sort"
	"time"
)

// SelectedDenom is a denomination picked by the selector, with the number of
// coins to withdraw.
type SelectedDenom struct {
	Denom Denomination
	Count int
}

// DenomSelection is the outcome of a withdrawal denomination selection.
type DenomSelection struct {
	SelectedDenoms    []SelectedDenom
	TotalCoinValue    Amount
	TotalWithdrawCost Amount
}

// NumCoins returns the overall number of coins of the selection.
func (s DenomSelection) NumCoins() int {
	n := 0
	for _, sd := range s.SelectedDenoms {
		n += sd.Count
	}
	return n
}

// ToState returns the persisted form of the selection.
func (s DenomSelection) ToState() DenomSelectionState {
	items := make([]DenomSelectionItem, 0, len(s.SelectedDenoms))
	for _, sd := range s.SelectedDenoms {
		items = append(items, DenomSelectionItem{
			DenomPubHash: sd.Denom.DenomPubHash,
			Count:        sd.Count,
		})
	}
	return DenomSelectionState{
		SelectedDenoms:    items,
		TotalCoinValue:    s.TotalCoinValue,
		TotalWithdrawCost: s.TotalWithdrawCost,
	}
}

// DenomSelectionItem references a selected denomination by its hash.
type DenomSelectionItem struct {
	DenomPubHash string
	Count        int
}

// DenomSelectionState is the form of a denomination selection stored in the
// records, where denominations are referenced by hash.
type DenomSelectionState struct {
	SelectedDenoms    []DenomSelectionItem
	TotalCoinValue    Amount
	TotalWithdrawCost Amount
}

// NumCoins returns the overall number of coins of the selection.
func (s DenomSelectionState) NumCoins() int {
	n := 0
	for _, sd := range s.SelectedDenoms {
		n += sd.Count
	}
	return n
}

// SelectWithdrawalDenominations greedily picks the coins to withdraw with
// the given budget. Withdrawable denominations are considered from the
// highest value down, taking as many coins of each as the remaining budget
// allows. What is left after the smallest affordable denomination is not
// spent.
func SelectWithdrawalDenominations(
	amountAvailable Amount, denoms []Denomination, now time.Time,
) DenomSelection {
	currency := amountAvailable.Currency
	totalCoinValue := ZeroAmount(currency)
	totalWithdrawCost := ZeroAmount(currency)
	selected := make([]SelectedDenom, 0)

	candidates := make([]Denomination, 0, len(denoms))
	for _, d := range denoms {
		if d.Value.Currency != currency || !d.IsWithdrawable(now) {
			continue
		}
		candidates = append(candidates, d)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Value.Cmp(candidates[j].Value) > 0
	})

	remaining := amountAvailable
	for _, d := range candidates {
		cost := d.WithdrawCost()
		if cost.IsZero() {
			continue
		}
		quotient, _ := remaining.Value.QuoRem(cost.Value, 0)
		count := int(quotient.IntPart())
		if count > 0 {
			remaining, _ = remaining.Sub(cost.Mul(count))
			totalCoinValue, _ = totalCoinValue.Add(d.Value.Mul(count))
			totalWithdrawCost, _ = totalWithdrawCost.Add(cost.Mul(count))
			selected = append(selected, SelectedDenom{Denom: d, Count: count})
		}
		if remaining.IsZero() {
			break
		}
	}

	return DenomSelection{
		SelectedDenoms:    selected,
		TotalCoinValue:    totalCoinValue,
		TotalWithdrawCost: totalWithdrawCost,
	}
}

// GetTotalRefreshCost returns the value lost when refreshing amountLeft of a
// coin of the refreshed denomination, given the denominations available for
// the new coins.
func GetTotalRefreshCost(
	denoms []Denomination, refreshedDenom Denomination, amountLeft Amount,
	now time.Time,
) Amount {
	withdrawAmount, _ := amountLeft.Sub(refreshedDenom.FeeRefresh)
	sel := SelectWithdrawalDenominations(withdrawAmount, denoms, now)
	cost, _ := amountLeft.Sub(sel.TotalCoinValue)
	return cost
}
