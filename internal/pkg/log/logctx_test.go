package log

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Важно: часть тестов меняет slog.Default(), поэтому они НЕ используют t.Parallel().

func newSilent() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recHandler запоминает атрибуты последней записи, включая накопленные через With.
type recHandler struct {
	base  []slog.Attr
	attrs map[string]any
}

func (h *recHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recHandler) Handle(_ context.Context, r slog.Record) error {
	h.attrs = make(map[string]any)
	for _, a := range h.base {
		h.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		h.attrs[a.Key] = a.Value.Any()
		return true
	})
	return nil
}

func (h *recHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recHandler{base: append(append([]slog.Attr{}, h.base...), attrs...), attrs: h.attrs}
}

func (h *recHandler) WithGroup(string) slog.Handler { return h }

func TestFrom_ReturnsDefault_WhenNoLoggerInContext(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	def := newSilent()
	slog.SetDefault(def)

	require.Equal(t, def, From(context.Background()))
}

func TestIntoAndFrom_RoundTrip(t *testing.T) {
	l := newSilent()
	ctx := Into(context.Background(), l)

	require.Equal(t, l, From(ctx))
}

// From устойчив к «мусорным» значениям по нашему ключу и к *slog.Logger(nil).
func TestFrom_WrongTypeOrNil(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
	def := newSilent()
	slog.SetDefault(def)

	ctxWrong := context.WithValue(context.Background(), ctxKey{}, "not-a-logger")
	require.Equal(t, def, From(ctxWrong))

	var nilLogger *slog.Logger
	ctxNil := context.WithValue(context.Background(), ctxKey{}, nilLogger)
	require.Equal(t, def, From(ctxNil))
}

func TestWith_EnrichesAndStores(t *testing.T) {
	h := &recHandler{}
	ctx := Into(context.Background(), slog.New(h))

	ctx, l := With(ctx, slog.String("request_id", "rid-1"))
	require.Equal(t, l, From(ctx))

	From(ctx).Info("probe", slog.Int("status", 200))

	// Запись пишет дочерний handler, созданный через WithAttrs.
	child, ok := l.Handler().(*recHandler)
	require.True(t, ok)
	require.Equal(t, "rid-1", child.attrs["request_id"])
	require.Equal(t, int64(200), child.attrs["status"])
}

func TestInto_PreservesCancellationAndDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	child := Into(parent, newSilent())

	cdl, ok := child.Deadline()
	require.True(t, ok)
	pdl, _ := parent.Deadline()
	require.WithinDuration(t, pdl, cdl, time.Millisecond)

	select {
	case <-child.Done():
		require.ErrorIs(t, child.Err(), context.DeadlineExceeded)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("ожидали дедлайн у дочернего контекста")
	}
}
