package user

type BalanceResponse struct {
	UserID string `json:"userId"`
	Amount int    `json:"amount"`
}
