package models

import "time"

// BrokerAccount - привязанный брокерский счёт.
// Ключи и токен хранятся зашифрованными и не отдаются в JSON.
type BrokerAccount struct {
	ID          int       `json:"id" db:"id"`
	BrokerName  string    `json:"broker_name" db:"broker_name"` // dhan, paper
	AccountID   string    `json:"account_id" db:"account_id"`   // client id у брокера
	APIKey      string    `json:"-" db:"api_key"`
	APISecret   string    `json:"-" db:"api_secret"`
	AccessToken string    `json:"-" db:"access_token"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	IsDefault   bool      `json:"is_default" db:"is_default"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
