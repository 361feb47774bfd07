package models

// Эндпоинты /auth/* относительно базового URL API.
const (
	PathRegister = "/auth/register/"
	PathLogin    = "/auth/login/"
	PathRefresh  = "/auth/token/refresh/"
	PathLogout   = "/auth/logout/"
	PathUser     = "/auth/user/"
)
