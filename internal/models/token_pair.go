package models

// TokenPair — пара токенов клиента.
//
// Описание:
//   - Access — короткоживущий bearer для каждого запроса;
//   - Refresh — долгоживущий секрет, обменивается на новый Access.
//
// Клиент не разбирает токены: только сохраняет, заменяет и удаляет их парой.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Complete сообщает, что оба токена присутствуют.
func (p TokenPair) Complete() bool {
	return p.Access != "" && p.Refresh != ""
}
