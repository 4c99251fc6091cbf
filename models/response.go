package models

import "github.com/shopspring/decimal"

type RegisterResponse struct {
	ID       string `json:"id" example:"6f1c2b9e-7d1a-4a4f-9d0e-0c3f7f1b2a11"`
	Username string `json:"username" example:"john_doe"`
}

type LoginResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

type GetTransactionsResponse struct {
	Transactions []Transaction   `json:"transactions"`
	Amount       decimal.Decimal `json:"amount" swaggertype:"string" example:"-42.50"`
}

type GetTransactionResponse struct {
	Transaction Transaction     `json:"transaction"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"-42.50"`
}

type DeleteTransactionResponse struct {
	Deleted Transaction `json:"deleted"`
}

// FieldErrorsResponse maps a request field to its validation messages.
type FieldErrorsResponse map[string][]string

type ErrorResponse struct {
	Error string `json:"error" example:"error"`
}

type DeleteSourceResponse struct {
	Deleted PaymentSource `json:"deleted"`
}
