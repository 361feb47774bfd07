package models

import "net/http"

// Request — снимок исходящего вызова. Хранится ровно столько, сколько нужно
// для однократного повтора после refresh, поэтому тело уже материализовано.
//
// Anonymous-запросы (login, register, refresh) уходят без Authorization
// и никогда не запускают обновление токена.
type Request struct {
	Method    string
	Path      string
	Header    http.Header
	Body      []byte
	Anonymous bool
}

// Clone возвращает копию с независимыми заголовками и телом.
func (r Request) Clone() Request {
	out := r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}

	return out
}

// Response — ответ сервера без интерпретации статуса.
//
// RefreshErr заполняется, если запрос получил 401, а цикл обновления токена
// завершился неудачей: это диагностический контекст, сам ответ остаётся
// исходным ответом 401.
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	RefreshErr error
}

// OK — статус 2xx.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}
