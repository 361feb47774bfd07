// Входные/выходные модели REST-эндпоинтов /auth/*.
package models

// Session — результат успешного входа или регистрации.
type Session struct {
	User   User
	Tokens TokenPair
}

// AuthResponse — тело ответа /auth/login/ и /auth/register/.
type AuthResponse struct {
	User    User      `json:"user"`
	Tokens  TokenPair `json:"tokens"`
	Message string    `json:"message,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterInput — данные формы регистрации.
// ProfilePicture — путь к файлу изображения на устройстве (опционально).
// PasswordConfirm — повтор пароля; пустое значение не проверяется.
type RegisterInput struct {
	Email           string
	Password        string
	PasswordConfirm string
	FirstName       string
	LastName        string
	ProfilePicture  string
}

type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshResponse — ответ /auth/token/refresh/; Refresh присутствует
// только при ротации refresh-токенов на сервере.
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type LogoutRequest struct {
	Refresh string `json:"refresh"`
}

// ProfileUpdate — частичное обновление профиля (PATCH /auth/user/);
// nil-поля не отправляются.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}
