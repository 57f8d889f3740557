package pricing

import (
	"github.com/shopspring/decimal"

	"gerailink/backend/internal/domain"
)

// LineInput is one cart line after price resolution: quantity, the resolved
// unit price and an optional per-line discount amount.
type LineInput struct {
	SKU       string
	ItemName  string
	Quantity  int
	UnitPrice decimal.Decimal
	Discount  decimal.Decimal
}

type CartTotals struct {
	SubTotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	GSTTotal      decimal.Decimal
	GrandTotal    decimal.Decimal
}

// PriceCart computes every line and the cart aggregates at full precision.
// GST applies to the discounted line amount. Rounding happens only when the
// amounts are rendered, never here.
func PriceCart(lines []LineInput, gstRatePercent float64) ([]domain.SaleLine, CartTotals) {
	gstRate := decimal.NewFromFloat(gstRatePercent)
	hundred := decimal.NewFromInt(100)

	out := make([]domain.SaleLine, 0, len(lines))
	var totals CartTotals

	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		subtotal := qty.Mul(line.UnitPrice)
		gst := subtotal.Sub(line.Discount).Mul(gstRate).Div(hundred)
		total := subtotal.Sub(line.Discount).Add(gst)

		out = append(out, domain.SaleLine{
			SKU:          line.SKU,
			ItemName:     line.ItemName,
			Quantity:     line.Quantity,
			PricePerUnit: line.UnitPrice,
			Subtotal:     subtotal,
			Discount:     line.Discount,
			GST:          gst,
			Total:        total,
		})

		totals.SubTotal = totals.SubTotal.Add(subtotal)
		totals.DiscountTotal = totals.DiscountTotal.Add(line.Discount)
		totals.GSTTotal = totals.GSTTotal.Add(gst)
	}

	totals.GrandTotal = totals.SubTotal.Sub(totals.DiscountTotal).Add(totals.GSTTotal)
	return out, totals
}

// Display renders a monetary amount for responses, rounded half-up to two
// decimal places. This is the only place amounts lose precision.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
