package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SelectActivePackage returns the first eligible package in list order. A legacy flat
// balance with hours left yields one implicit package with LegacyPackageID.
func SelectActivePackage(c Capacity) (Package, bool) {
	if c.IsLegacy() {
		if !c.Flat.IsPositive() {
			return Package{}, false
		}
		return Package{
			ID:             LegacyPackageID,
			Hours:          c.Flat,
			HoursUsed:      decimal.Zero,
			HoursRemaining: c.Flat,
			Status:         PackageActive,
		}, true
	}
	for _, p := range c.Packages {
		if p.Eligible() {
			return p, true
		}
	}
	return Package{}, false
}

// Deduct returns a new package with hours consumed. Remaining never drops below zero;
// the part of hours beyond what remained is carried in OverdraftHours.
func Deduct(p Package, hours decimal.Decimal, now time.Time) Package {
	out := p
	out.HoursUsed = p.HoursUsed.Add(hours)
	after := p.HoursRemaining.Sub(hours)
	if after.IsNegative() {
		out.OverdraftHours = p.OverdraftHours.Add(after.Neg())
		after = decimal.Zero
	}
	out.HoursRemaining = after
	if !after.IsPositive() {
		closed := now
		out.Status = PackageDepleted
		out.ClosedDate = &closed
	}
	return out
}

// RemainingHours sums remaining hours over active packages, or returns the flat balance
// for the legacy variant. A flat balance below zero is an overdraft.
func RemainingHours(c Capacity) decimal.Decimal {
	if c.IsLegacy() {
		return c.Flat
	}
	total := decimal.Zero
	for _, p := range c.Packages {
		if p.Counted() {
			total = total.Add(p.HoursRemaining)
		}
	}
	return total
}

// TotalHours sums package sizes regardless of status. The flat variant only stores what
// is left, so its total is the signed balance plus legacyUsed, the hours the holder
// recorded against it.
func TotalHours(c Capacity, legacyUsed decimal.Decimal) decimal.Decimal {
	if c.IsLegacy() {
		return c.Flat.Add(legacyUsed)
	}
	total := decimal.Zero
	for _, p := range c.Packages {
		total = total.Add(p.Hours)
	}
	return total
}

// UsedHours sums consumed hours regardless of status, or returns legacyUsed for the
// flat variant.
func UsedHours(c Capacity, legacyUsed decimal.Decimal) decimal.Decimal {
	if c.IsLegacy() {
		return legacyUsed
	}
	total := decimal.Zero
	for _, p := range c.Packages {
		total = total.Add(p.HoursUsed)
	}
	return total
}

// Progress is used/total as a percentage rounded to one decimal.
func Progress(c Capacity, legacyUsed decimal.Decimal) decimal.Decimal {
	total := TotalHours(c, legacyUsed)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return UsedHours(c, legacyUsed).Div(total).Mul(decimal.NewFromInt(100)).Round(1)
}

// ReplacePackage returns a capacity with the package swapped in. For the legacy variant
// the implicit package becomes the new flat balance, negative by any overdraft.
func ReplacePackage(c Capacity, p Package) Capacity {
	if c.IsLegacy() {
		if p.ID == LegacyPackageID {
			c.Flat = p.HoursRemaining.Sub(p.OverdraftHours)
		}
		return c
	}
	packages := make([]Package, len(c.Packages))
	for i, existing := range c.Packages {
		if existing.ID == p.ID {
			packages[i] = p
			continue
		}
		packages[i] = existing
	}
	c.Packages = packages
	return c
}
