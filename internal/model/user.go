package model

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID       string
	Username string
	Email    string
	FullName string
	Role     string

	// PublicKeyHex is the user's Ed25519-SHA3-512 public key, empty until
	// the user registers one.
	PublicKeyHex string
}

func (u User) HasSigningKey() bool {
	return u.PublicKeyHex != ""
}
