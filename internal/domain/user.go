package domain

import "time"

// User is a registered account; jobs are owned by User.ID
type User struct {
	ID           string    `db:"user_id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}
