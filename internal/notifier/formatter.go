package notifier

import (
	"fmt"
	"strings"

	"YieldAccrual/internal/model"
)

// FormatDerived formats a DerivedYield read model for display.
func FormatDerived(d *model.DerivedYield) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📈 <b>Vesting yield</b> | %s | %s\n\n", d.AccountID, d.ComputedAt.Format("2006-01-02 15:04:05")))

	b.WriteString(fmt.Sprintf("Accrued: %.8f (%.4f priced)\n", d.CurrentYield.Native, d.CurrentYield.Priced))
	b.WriteString(fmt.Sprintf("This session: %.8f\n", d.SessionYield.Native))
	b.WriteString(fmt.Sprintf("Monthly cap: %.4f (%.2f%% reached)\n\n", d.MaxMonthlyYield, d.ProgressPercentage))

	b.WriteString("⏱ <b>Rates:</b>\n")
	rows := []struct {
		label string
		a     model.Amount
	}{
		{"second", d.Rates.PerSecond},
		{"minute", d.Rates.PerMinute},
		{"hour", d.Rates.PerHour},
		{"day", d.Rates.PerDay},
		{"week", d.Rates.PerWeek},
		{"month", d.Rates.PerMonth},
	}
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("  per %-6s %.8f (%.4f priced)\n", r.label+":", r.a.Native, r.a.Priced))
	}

	if d.DaysUntilTarget > 0 {
		b.WriteString(fmt.Sprintf("\n🎯 %d days to target: +%.4f (%.4f priced)\n", d.DaysUntilTarget, d.UntilTarget.Native, d.UntilTarget.Priced))
	}
	if d.Capped {
		b.WriteString("\n⚠️ Monthly cap reached, accrual paused\n")
	}
	return b.String()
}

// FormatReload formats the alert sent when an external balance change is detected.
func FormatReload(accountID string, oldPrincipal, newPrincipal float64) string {
	delta := newPrincipal - oldPrincipal
	return fmt.Sprintf("💰 <b>Balance change detected</b> | %s\n\nPrincipal: %.4f → %.4f (%+.4f)\nAccrual restarted from the new baseline.",
		accountID, oldPrincipal, newPrincipal, delta)
}

// FormatCapReached formats the alert sent once the monthly cap is hit.
func FormatCapReached(d *model.DerivedYield) string {
	return fmt.Sprintf("🏁 <b>Monthly cap reached</b> | %s\n\nAccrued: %.4f of %.4f\nNo further yield accrues until the next window.",
		d.AccountID, d.CurrentYield.Native, d.MaxMonthlyYield)
}

// FormatNoAccrual is shown while the principal is zero.
func FormatNoAccrual(accountID string) string {
	return fmt.Sprintf("💤 %s has no vesting balance, nothing is accruing.", accountID)
}
