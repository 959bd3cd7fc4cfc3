package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expert is a user allowed to classify images.
type Expert struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Claims defines the structure of the JWT claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// SessionPosition is the saved catalog index of an expert.
type SessionPosition struct {
	ExpertID  string    `db:"expert_id" json:"expertId"`
	Index     int       `db:"position" json:"index"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
