package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/mail"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/models"
	logctx "github.com/pribylovaa/schedscan-client/internal/pkg/log"
	"github.com/pribylovaa/schedscan-client/internal/pkg/redact"
)

const (
	msgRequired      = "This field is required."
	msgInvalidEmail  = "Enter a valid email address."
	msgNameTooLong   = "Ensure this field has no more than 150 characters."
	msgEmailTaken    = "A user with this email already exists."
	msgPasswordMatch = "Password fields didn't match."
	msgBadLogin      = "Invalid email or password."
	msgTokenInvalid  = "Token is invalid or expired"
)

type fieldErrors map[string][]string

func (f fieldErrors) add(field, msg string) { f[field] = append(f[field], msg) }

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "SchedScan backend is running!"})
}

// register — POST /auth/register/ (multipart/form-data или JSON).
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	lg := logctx.From(r.Context())

	form, picture, err := readRegisterForm(r)
	if err != nil {
		apierrors.WriteDetail(w, http.StatusBadRequest, "Malformed request.")
		return
	}

	email := strings.ToLower(strings.TrimSpace(form["email"]))
	errs := fieldErrors{}

	switch {
	case email == "":
		errs.add("email", msgRequired)
	case !validEmail(email):
		errs.add("email", msgInvalidEmail)
	}
	if form["password"] == "" {
		errs.add("password", msgRequired)
	}
	for _, f := range []string{"first_name", "last_name"} {
		switch v := form[f]; {
		case strings.TrimSpace(v) == "":
			errs.add(f, msgRequired)
		case utf8.RuneCountInString(v) > 150:
			errs.add(f, msgNameTooLong)
		}
	}
	if len(errs) == 0 && form["password2"] != "" && form["password2"] != form["password"] {
		errs.add("password", msgPasswordMatch)
	}

	if len(errs) > 0 {
		apierrors.WriteFields(w, http.StatusBadRequest, errs)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(form["password"]), bcrypt.DefaultCost)
	if err != nil {
		lg.Error("password_hash_failed", slog.String("err", err.Error()))
		apierrors.WriteDetail(w, http.StatusInternalServerError, "A server error occurred.")
		return
	}

	now := s.opts.Now().UTC()

	s.mu.Lock()
	if _, taken := s.byEmail[email]; taken {
		s.mu.Unlock()
		apierrors.WriteFields(w, http.StatusBadRequest, fieldErrors{"email": {msgEmailTaken}})
		return
	}

	s.nextID++
	u := models.User{
		ID:        s.nextID,
		Email:     email,
		FirstName: strings.TrimSpace(form["first_name"]),
		LastName:  strings.TrimSpace(form["last_name"]),
		CreatedAt: now,
	}
	if picture != nil {
		name := uuid.NewString() + strings.ToLower(filepath.Ext(picture.name))
		s.media[name] = mediaFile{data: picture.data, contentType: picture.contentType}
		url := "http://" + r.Host + "/media/profile_pictures/" + name
		u.ProfilePicture = &url
	}
	s.users[u.ID] = &userRecord{user: u, passwordHash: hash}
	s.byEmail[email] = u.ID

	tokens, err := s.issueTokens(u.ID, now)
	s.mu.Unlock()

	if err != nil {
		lg.Error("token_issue_failed", slog.String("err", err.Error()))
		apierrors.WriteDetail(w, http.StatusInternalServerError, "A server error occurred.")
		return
	}

	lg.Info("user_registered", slog.Int64("user_id", u.ID), slog.String("email", redact.Email(email)))

	writeJSON(w, http.StatusCreated, models.AuthResponse{
		User:    u,
		Tokens:  tokens,
		Message: "User registered successfully",
	})
}

// login — POST /auth/login/.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apierrors.WriteDetail(w, http.StatusBadRequest, "JSON parse error.")
		return
	}

	errs := fieldErrors{}
	if in.Email == "" {
		errs.add("email", msgRequired)
	} else if !validEmail(in.Email) {
		errs.add("email", msgInvalidEmail)
	}
	if in.Password == "" {
		errs.add("password", msgRequired)
	}
	if len(errs) > 0 {
		apierrors.WriteFields(w, http.StatusBadRequest, errs)
		return
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))

	s.mu.Lock()
	var rec *userRecord
	if id, ok := s.byEmail[email]; ok {
		rec = s.users[id]
	}
	s.mu.Unlock()

	if rec == nil || bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(in.Password)) != nil {
		apierrors.WriteFields(w, http.StatusBadRequest, fieldErrors{apierrors.NonFieldKey: {msgBadLogin}})
		return
	}

	s.mu.Lock()
	tokens, err := s.issueTokens(rec.user.ID, s.opts.Now().UTC())
	user := rec.user
	s.mu.Unlock()

	if err != nil {
		apierrors.WriteDetail(w, http.StatusInternalServerError, "A server error occurred.")
		return
	}

	writeJSON(w, http.StatusOK, models.AuthResponse{User: user, Tokens: tokens, Message: "Login successful"})
}

// refreshToken — POST /auth/token/refresh/.
func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	var in models.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Refresh == "" {
		apierrors.WriteFields(w, http.StatusBadRequest, fieldErrors{"refresh": {msgRequired}})
		return
	}

	now := s.opts.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupRefresh(in.Refresh, now)
	if err != nil {
		writeTokenInvalid(w, msgTokenInvalid)
		return
	}

	access, err := s.generateAccessToken(rec.UserID, now)
	if err != nil {
		apierrors.WriteDetail(w, http.StatusInternalServerError, "A server error occurred.")
		return
	}

	out := models.RefreshResponse{Access: access}
	if s.opts.Rotate {
		rec.Revoked = true
		if out.Refresh, err = s.generateRefreshToken(rec.UserID, now); err != nil {
			apierrors.WriteDetail(w, http.StatusInternalServerError, "A server error occurred.")
			return
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// logout — POST /auth/logout/: отзыв refresh-токена.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var in models.LogoutRequest
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Refresh token is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookupRefresh(in.Refresh, s.opts.Now().UTC())
	if err != nil || rec.UserID != userIDFrom(r.Context()) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgTokenInvalid})
		return
	}
	rec.Revoked = true

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

// getUser — GET /auth/user/.
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rec, ok := s.users[userIDFrom(r.Context())]
	var u models.User
	if ok {
		u = rec.user
	}
	s.mu.Unlock()

	if !ok {
		writeTokenInvalid(w, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// updateUser — PATCH /auth/user/: имя и фамилия.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var in models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		apierrors.WriteDetail(w, http.StatusBadRequest, "JSON parse error.")
		return
	}

	errs := fieldErrors{}
	check := func(field string, v *string) {
		switch {
		case v == nil:
		case strings.TrimSpace(*v) == "":
			errs.add(field, msgRequired)
		case utf8.RuneCountInString(*v) > 150:
			errs.add(field, msgNameTooLong)
		}
	}
	check("first_name", in.FirstName)
	check("last_name", in.LastName)
	if len(errs) > 0 {
		apierrors.WriteFields(w, http.StatusBadRequest, errs)
		return
	}

	s.mu.Lock()
	rec, ok := s.users[userIDFrom(r.Context())]
	var u models.User
	if ok {
		if in.FirstName != nil {
			rec.user.FirstName = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			rec.user.LastName = strings.TrimSpace(*in.LastName)
		}
		u = rec.user
	}
	s.mu.Unlock()

	if !ok {
		writeTokenInvalid(w, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (s *Server) servePicture(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.media[chi.URLParam(r, "name")]
	s.mu.Unlock()

	if !ok {
		apierrors.WriteDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	w.Header().Set("Content-Type", f.contentType)
	_, _ = w.Write(f.data)
}

// issueTokens выпускает пару токенов. Вызывается под s.mu.
func (s *Server) issueTokens(userID int64, now time.Time) (models.TokenPair, error) {
	access, err := s.generateAccessToken(userID, now)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := s.generateRefreshToken(userID, now)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

// readRegisterForm читает поля регистрации из multipart или JSON.
func readRegisterForm(r *http.Request) (map[string]string, *upload, error) {
	fields := []string{"email", "password", "password2", "first_name", "last_name"}
	out := make(map[string]string, len(fields))

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt != "multipart/form-data" {
		var in map[string]string
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return nil, nil, err
		}
		for _, f := range fields {
			out[f] = in[f]
		}
		return out, nil, nil
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, nil, err
	}
	for _, f := range fields {
		out[f] = r.FormValue(f)
	}

	file, hdr, err := r.FormFile("profile_picture")
	if errors.Is(err, http.ErrMissingFile) {
		return out, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, nil, err
	}

	ctype := hdr.Header.Get("Content-Type")
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}

	return out, &upload{name: hdr.Filename, contentType: ctype, data: data}, nil
}

func validEmail(raw string) bool {
	addr, err := mail.ParseAddress(raw)
	return err == nil && addr.Address == raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
