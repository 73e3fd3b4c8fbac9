package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword returns the bcrypt hash of password. The optional cost
// overrides bcrypt.DefaultCost; tests pass a low cost to keep hashing fast.
func HashPassword(password string, cost ...int) (string, error) {
	c := bcrypt.DefaultCost
	if len(cost) > 0 && cost[0] >= bcrypt.MinCost {
		c = cost[0]
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
