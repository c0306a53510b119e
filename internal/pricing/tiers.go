package pricing

// Tier grants a percentage discount once the purchased quantity reaches MinQty.
type Tier struct {
	MinQty  int
	Percent int64
}

// DefaultBundleTiers is the standard quantity ladder applied when the engine
// is not configured with a custom table. Tiers must be ascending by MinQty.
var DefaultBundleTiers = []Tier{
	{MinQty: 2, Percent: 5},
	{MinQty: 3, Percent: 10},
	{MinQty: 5, Percent: 15},
	{MinQty: 10, Percent: 25},
}

// BundlePercent selects the highest tier whose threshold does not exceed the
// quantity. Quantities below the first tier yield zero.
func BundlePercent(tiers []Tier, quantity int) int64 {
	var percent int64
	for _, t := range tiers {
		if quantity < t.MinQty {
			break
		}
		percent = t.Percent
	}
	return percent
}
