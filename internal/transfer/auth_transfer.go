package transfer

import "github.com/golang-jwt/jwt/v5"

type CustomClaims struct {
	UserID  string `json:"user_id"`
	StoreID string `json:"store_id"`
	jwt.RegisteredClaims
}
