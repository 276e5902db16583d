package domain

// Promotion is the subset of a promotion definition needed to validate codes
// supplied on a draft order.
type Promotion struct {
	ID          string
	Code        string
	IsAutomatic bool
	Status      string
}
