// errors — таксономия ошибок клиентского слоя сессии.
// На вход принимает ответ сервера или сбой транспорта/хранилища,
// на выход даёт *Error с категорией (Kind), которую UI показывает пользователю:
//   - Validation — входные данные отклонены локально, до сети;
//   - Network — сервер недоступен или истёк таймаут; этим слоем не повторяется;
//   - Authorization — сервер отклонил учётные данные (401);
//   - Request — прочие 4xx (например, email уже занят) с ошибками полей;
//   - Server — 5xx или неразборчивый ответ;
//   - Storage — сбой локального хранилища на пути записи.
//
// Формат тел ошибок — как у бэкенда на DRF:
// {"field": ["msg", ...]}, {"non_field_errors": [...]}, {"detail": "..."}, {"error": "..."}.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/pribylovaa/schedscan-client/internal/models"
)

// Kind — категория ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNetwork
	KindAuthorization
	KindRequest
	KindServer
	KindStorage
)

// NonFieldKey — ключ DRF для ошибок, не привязанных к полю.
const NonFieldKey = "non_field_errors"

var (
	ErrValidation   = errors.New("validation failed")
	ErrNetwork      = errors.New("network unreachable")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRequest      = errors.New("request rejected")
	ErrServer       = errors.New("server error")
	ErrStorage      = errors.New("local storage failure")
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	case KindRequest:
		return "request"
	case KindServer:
		return "server"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNetwork:
		return ErrNetwork
	case KindAuthorization:
		return ErrUnauthorized
	case KindRequest:
		return ErrRequest
	case KindServer:
		return ErrServer
	case KindStorage:
		return ErrStorage
	default:
		return nil
	}
}

// Error — классифицированная ошибка.
//
// RefreshErr — диагностический контекст: почему не удалось обновить токен
// после 401. Через Unwrap он НЕ доступен: ошибка относится к исходному запросу.
type Error struct {
	Kind       Kind
	Op         string
	Status     int
	Message    string
	Fields     map[string][]string
	RefreshErr error
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}

	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	if e.RefreshErr != nil {
		b.WriteString("; refresh: ")
		b.WriteString(e.RefreshErr.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is сопоставляет ошибку с сентинелом её категории.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// FieldMessages возвращает плоский список "поле: сообщение" в стабильном порядке.
func (e *Error) FieldMessages() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []string
	for _, k := range keys {
		for _, msg := range e.Fields[k] {
			if k == NonFieldKey {
				out = append(out, msg)
				continue
			}
			out = append(out, k+": "+msg)
		}
	}

	return out
}

// KindOf возвращает категорию ошибки (KindUnknown, если это не *Error).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// FromResponse конвертирует ответ сервера в ошибку.
//
// Поведение:
//   - resp == nil — программная ошибка вызова: KindServer, чтобы не замаскировать баг;
//   - 2xx — nil;
//   - иначе — категория по статусу (см. kindFromStatus), сообщение и ошибки
//     полей из тела, RefreshErr переносится из ответа.
func FromResponse(op string, resp *models.Response) error {
	if resp == nil {
		return &Error{Kind: KindServer, Op: op, Message: "empty response"}
	}

	if resp.OK() {
		return nil
	}

	kind, fallback := kindFromStatus(resp.Status)
	msg, fields := parseBody(resp.Body)
	if msg == "" {
		msg = fallback
	}

	return &Error{
		Kind:       kind,
		Op:         op,
		Status:     resp.Status,
		Message:    msg,
		Fields:     fields,
		RefreshErr: resp.RefreshErr,
	}
}

// Network — сбой транспорта: нет соединения, таймаут, обрыв.
func Network(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

// Malformed — ответ 2xx, который не удалось разобрать.
func Malformed(op string, status int, err error) error {
	return &Error{Kind: KindServer, Op: op, Status: status, Message: "malformed response", Err: err}
}

// Validation — локальная ошибка входных данных.
func Validation(op string, fields map[string][]string) error {
	e := &Error{Kind: KindValidation, Op: op, Fields: fields}
	if msgs := e.FieldMessages(); len(msgs) > 0 {
		e.Message = strings.Join(msgs, "; ")
	}

	return e
}

// Storage — сбой записи в локальное хранилище.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// kindFromStatus — базовый маппинг HTTP-статуса в категорию и сообщение:
//   - 401 -> Authorization;
//   - 408 -> Network (таймаут на стороне прокси/сервера);
//   - прочие 4xx -> Request;
//   - 5xx -> Server;
//   - прочее (1xx/3xx) -> Server: слой не следует редиректам вручную.
func kindFromStatus(status int) (Kind, string) {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthorization, "unauthorized"
	case status == http.StatusRequestTimeout:
		return KindNetwork, "request timeout"
	case status >= 400 && status < 500:
		return KindRequest, strings.ToLower(http.StatusText(status))
	case status >= 500 && status < 600:
		return KindServer, "server error"
	default:
		return KindServer, "unexpected status"
	}
}

// parseBody разбирает тело ошибки в формате DRF.
func parseBody(body []byte) (string, map[string][]string) {
	if len(body) == 0 {
		return "", nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", nil
	}

	var msg string
	fields := make(map[string][]string)

	for key, val := range raw {
		msgs := decodeMessages(val)
		if len(msgs) == 0 {
			continue
		}

		switch key {
		case "detail", "error", "message":
			if msg == "" {
				msg = msgs[0]
			}
		default:
			fields[key] = msgs
		}
	}

	if nf := fields[NonFieldKey]; msg == "" && len(nf) > 0 {
		msg = nf[0]
	}

	if len(fields) == 0 {
		fields = nil
	}

	return msg, fields
}

// decodeMessages принимает строку или массив строк.
func decodeMessages(val json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var list []string
	if err := json.Unmarshal(val, &list); err == nil {
		return list
	}

	return nil
}

// WriteFields пишет ответ с ошибками полей в формате DRF.
func WriteFields(w http.ResponseWriter, status int, fields map[string][]string) {
	writeJSON(w, status, fields)
}

// WriteDetail пишет ответ {"detail": msg}.
func WriteDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
