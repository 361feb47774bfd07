package session

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	apierrors "github.com/pribylovaa/schedscan-client/internal/errors"
	"github.com/pribylovaa/schedscan-client/internal/models"
)

const defaultPictureName = "profile.jpg"

// registerRequest собирает multipart-форму регистрации.
// Поля: email, password, first_name, last_name, [password2], [profile_picture].
func registerRequest(in models.RegisterInput) (models.Request, error) {
	const op = "session.Register"

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := [][2]string{
		{"email", in.Email},
		{"password", in.Password},
		{"first_name", in.FirstName},
		{"last_name", in.LastName},
	}
	if in.PasswordConfirm != "" {
		fields = append(fields, [2]string{"password2", in.PasswordConfirm})
	}

	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return models.Request{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	if in.ProfilePicture != "" {
		data, err := os.ReadFile(in.ProfilePicture)
		if err != nil {
			return models.Request{}, apierrors.Validation(op, map[string][]string{
				"profile_picture": {"Unable to read the selected image."},
			})
		}

		name, ctype := pictureMeta(in.ProfilePicture)

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="profile_picture"; filename=%q`, name))
		h.Set("Content-Type", ctype)

		part, err := w.CreatePart(h)
		if err != nil {
			return models.Request{}, fmt.Errorf("%s: %w", op, err)
		}
		if _, err := part.Write(data); err != nil {
			return models.Request{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := w.Close(); err != nil {
		return models.Request{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.Request{
		Method:    http.MethodPost,
		Path:      models.PathRegister,
		Header:    http.Header{"Content-Type": {w.FormDataContentType()}},
		Body:      buf.Bytes(),
		Anonymous: true,
	}, nil
}

// pictureMeta — имя файла и тип содержимого по расширению: image/<ext>,
// без расширения — image/jpeg.
func pictureMeta(path string) (name, contentType string) {
	name = filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		name = defaultPictureName
	}

	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return name, "image/jpeg"
	}

	return name, "image/" + strings.ToLower(ext)
}
