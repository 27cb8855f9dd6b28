package testutil

import (
	"time"

	"github.com/AfshinJalili/stocktrade/libs/auth"
	"github.com/google/uuid"
)

// Match the demo accounts created by the seeder.
var (
	DemoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")

	DemoJWTSecret = []byte("test-secret")
)

func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return auth.SignJWT(userID, secret, ttl, now)
}

// MustJWT returns a one-hour token for userID signed with DemoJWTSecret.
func MustJWT(userID uuid.UUID) string {
	token, err := GenerateJWT(userID, DemoJWTSecret, time.Hour, time.Now())
	if err != nil {
		panic(err)
	}
	return token
}
