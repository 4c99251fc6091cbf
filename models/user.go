package models

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	BaseCurrency string `json:"base_currency"`
}
