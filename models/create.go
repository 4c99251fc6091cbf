package models

type CreateUser struct {
	Login    string `json:"username"`
	Password string `json:"password"`
}

type CreateSource struct {
	Source  string `json:"source"`
	AccType string `json:"acc_type"`
}

// UpdateSource renames a source or changes its account type. Omitted fields
// keep their current value.
type UpdateSource struct {
	Source  *string `json:"source"`
	AccType *string `json:"acc_type"`
}
