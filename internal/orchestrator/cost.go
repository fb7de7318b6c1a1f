package orchestrator

// CostModel prices clip generation for bookkeeping. Amounts are cents.
type CostModel struct {
	UnitCents             int
	AudioSurchargePercent int
}

// Cents returns the price of clips clips, with the audio surcharge applied
// when native audio is generated. Integer division rounds down.
func (c CostModel) Cents(clips int, audio bool) int {
	if clips <= 0 {
		return 0
	}
	total := clips * c.UnitCents
	if audio {
		total = total * (100 + c.AudioSurchargePercent) / 100
	}
	return total
}
