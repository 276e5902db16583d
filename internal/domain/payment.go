package domain

// PaymentCollection groups the payment sessions opened against a cart.
type PaymentCollection struct {
	ID           string
	CurrencyCode string
	Amount       float64
	Sessions     []PaymentSession
}

// PaymentSessionStatus is the payment service's session state. The completion
// workflow only distinguishes the authorized and captured states; everything
// else is treated as inert.
type PaymentSessionStatus string

const (
	PaymentSessionStatusNotStarted   PaymentSessionStatus = "not_started"
	PaymentSessionStatusPending      PaymentSessionStatus = "pending"
	PaymentSessionStatusAuthorized   PaymentSessionStatus = "authorized"
	PaymentSessionStatusCaptured     PaymentSessionStatus = "captured"
	PaymentSessionStatusCanceled     PaymentSessionStatus = "canceled"
	PaymentSessionStatusRequiresMore PaymentSessionStatus = "requires_more"
	PaymentSessionStatusError        PaymentSessionStatus = "error"
)

// PaymentSession is a single payment attempt within a collection. PaymentID is
// set once the session has produced a capturable payment.
type PaymentSession struct {
	ID           string
	ProviderID   string
	Status       PaymentSessionStatus
	Amount       float64
	CurrencyCode string
	PaymentID    string
	Data         map[string]any
}
