package models

import "time"

// User — профиль пользователя в том виде, в котором его отдаёт бэкенд.
// Локальная копия (ключ "user" в хранилище) служит только подсказкой для UI;
// источник истины — GET /auth/user/.
type User struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	ProfilePicture *string   `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
}

// FullName возвращает "Имя Фамилия" без лишних пробелов.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
