package store

import "time"

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

type Project struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
