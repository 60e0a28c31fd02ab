package dispenser

import (
	"github.com/btcsuite/btcd/btcutil"
)

// Fee rate bounds in sat/vB offered to buyers.
const (
	MinFeeRate int64 = 1
	MaxFeeRate int64 = 264
)

// Dispenser is a read-only snapshot of an on-chain dispenser.
type Dispenser struct {
	GiveRemaining int64  `json:"give_remaining"`
	GiveQuantity  int64  `json:"give_quantity"`
	SatoshiRate   int64  `json:"satoshirate"`
	Source        string `json:"source"`
}

// MaxQuantity is the number of whole dispenses the dispenser can still pay
// out. A dispenser with no positive give quantity has none.
func MaxQuantity(d Dispenser) int64 {
	if d.GiveQuantity <= 0 || d.GiveRemaining <= 0 {
		return 0
	}
	return d.GiveRemaining / d.GiveQuantity
}

// Form is the editable purchase intent for one dispenser. The zero value is
// not usable; build one with NewForm.
type Form struct {
	dispenser    Dispenser
	quantity     int64
	maxQuantity  int64
	pricePerUnit int64
	totalPrice   int64
	feeRate      int64
	agreed       bool
}

// NewForm starts a purchase of one unit at the given fee rate.
func NewForm(d Dispenser, feeRate int64) *Form {
	f := &Form{quantity: 1}
	f.SetFeeRate(feeRate)
	f.SetDispenser(d)
	return f
}

// SetDispenser replaces the snapshot and rederives every dependent value.
// The buyable maximum is further capped so the total never exceeds the
// bitcoin supply, which also keeps quantity × price inside int64.
func (f *Form) SetDispenser(d Dispenser) {
	f.dispenser = d
	f.pricePerUnit = d.SatoshiRate
	f.maxQuantity = payableQuantity(MaxQuantity(d), f.pricePerUnit)
	f.quantity = clampQuantity(f.quantity, f.maxQuantity)
	f.recomputeTotal()
}

// SetQuantity stores n clamped to [1, max].
func (f *Form) SetQuantity(n int64) {
	f.quantity = clampQuantity(n, f.maxQuantity)
	f.recomputeTotal()
}

// SetQuantityInput parses raw user input and stores the clamped result.
// Unparsable input is treated as zero and therefore stored as 1.
func (f *Form) SetQuantityInput(raw string) {
	n, ok := ParseLeadingInt(raw)
	if !ok {
		n = 0
	}
	f.SetQuantity(n)
}

// SetFeeRate stores rate clamped to [1, 264] sat/vB.
func (f *Form) SetFeeRate(rate int64) {
	switch {
	case rate < MinFeeRate:
		rate = MinFeeRate
	case rate > MaxFeeRate:
		rate = MaxFeeRate
	}
	f.feeRate = rate
}

// SetAgreed records whether the buyer accepted the terms.
func (f *Form) SetAgreed(agreed bool) {
	f.agreed = agreed
}

func (f *Form) Dispenser() Dispenser { return f.dispenser }
func (f *Form) Quantity() int64 { return f.quantity }
func (f *Form) MaxQuantity() int64 { return f.maxQuantity }
func (f *Form) PricePerUnit() int64 { return f.pricePerUnit }
func (f *Form) TotalPrice() int64 { return f.totalPrice }
func (f *Form) FeeRate() int64 { return f.feeRate }
func (f *Form) Agreed() bool { return f.agreed }

// SoldOut reports whether no whole dispense is left.
func (f *Form) SoldOut() bool {
	return f.maxQuantity < 1
}

func (f *Form) recomputeTotal() {
	f.totalPrice = f.quantity * f.pricePerUnit
}

// Quote is a point-in-time copy of a Form.
type Quote struct {
	Source       string `json:"source"`
	Quantity     int64  `json:"quantity"`
	MaxQuantity  int64  `json:"max_quantity"`
	PricePerUnit int64  `json:"price_per_unit"`
	TotalPrice   int64  `json:"total_price"`
	TotalBTC     string `json:"total_btc"`
	FeeRate      int64  `json:"fee_rate"`
	Agreed       bool   `json:"agreed_to_terms"`
	SoldOut      bool   `json:"sold_out"`
}

// Snapshot copies the current form into a Quote.
func (f *Form) Snapshot() Quote {
	return Quote{
		Source:       f.dispenser.Source,
		Quantity:     f.quantity,
		MaxQuantity:  f.maxQuantity,
		PricePerUnit: f.pricePerUnit,
		TotalPrice:   f.totalPrice,
		TotalBTC:     btcutil.Amount(f.totalPrice).String(),
		FeeRate:      f.feeRate,
		Agreed:       f.agreed,
		SoldOut:      f.SoldOut(),
	}
}

// payableQuantity bounds limit so that limit × price stays within
// btcutil.MaxSatoshi. A negative price makes nothing buyable.
func payableQuantity(limit, price int64) int64 {
	switch {
	case price < 0:
		return 0
	case price == 0:
		return limit
	}
	if affordable := int64(btcutil.MaxSatoshi) / price; limit > affordable {
		return affordable
	}
	return limit
}

func clampQuantity(n, limit int64) int64 {
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
