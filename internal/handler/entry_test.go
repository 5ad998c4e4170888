package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/handler"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository/sqlite"
	"github.com/sakif/journal/internal/service"
)

type testEnv struct {
	entries  *handler.EntryHandler
	auth     *handler.AuthHandler
	entrySvc *service.EntryService
	authSvc  *service.AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
	require.NoError(t, err)

	entrySvc := service.NewEntryService(db, logger)
	authSvc := service.NewAuthService(db, tokens, auth.NewPasswordServiceForTest(4), auth.NewMemoryDenylist(), logger)

	return &testEnv{
		entries:  handler.NewEntryHandler(entrySvc, logger),
		auth:     handler.NewAuthHandler(authSvc, nil, false, logger),
		entrySvc: entrySvc,
		authSvc:  authSvc,
	}
}

// newRequest builds a request as RequireAuth and chi would hand it to a
// handler: uid becomes the session (empty means anonymous) and id fills the
// {id} route parameter.
func newRequest(method, target, body, uid, id string) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")

	ctx := req.Context()
	if uid != "" {
		ctx = auth.WithSession(ctx, &auth.Session{
			UserID:    uid,
			TokenID:   "tok-" + uid,
			ExpiresAt: time.Now().Add(time.Hour),
		})
	}
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func (e *testEnv) createEntry(t *testing.T, uid, title string, tags ...string) *model.Entry {
	t.Helper()
	entry, err := e.entrySvc.Create(context.Background(), uid, service.EntryInput{
		Title:   title,
		Content: "content of " + title,
		Tags:    tags,
	})
	require.NoError(t, err)
	return entry
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody[handler.ErrorResponse](t, rec)
	assert.Equal(t, kind, body.Error)
	assert.NotEmpty(t, body.Message)
}

func TestEntryHandler_Create(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid entry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"title":"Day one","content":"hello","tags":["life"],"customFields":{"mood":"good","steps":8000}}`
		env.entries.HandleCreate(rec, newRequest(http.MethodPost, "/api/entries", body, "user-a", ""))

		assert.Equal(t, http.StatusCreated, rec.Code)
		entry := decodeBody[model.Entry](t, rec)
		assert.NotEmpty(t, entry.ID)
		assert.Equal(t, "user-a", entry.OwnerID)
		assert.Equal(t, []string{"life"}, entry.Tags)
		assert.Nil(t, entry.Image)
		assert.False(t, entry.CreatedAt.IsZero())
	})

	t.Run("missing title", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleCreate(rec, newRequest(http.MethodPost, "/api/entries", `{"title":"  ","content":"x"}`, "user-a", ""))
		assertError(t, rec, http.StatusBadRequest, "validation_error")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleCreate(rec, newRequest(http.MethodPost, "/api/entries", `{"title":`, "user-a", ""))
		assertError(t, rec, http.StatusBadRequest, "validation_error")
	})

	t.Run("body too large", func(t *testing.T) {
		huge := `{"title":"big","content":"` + strings.Repeat("a", handler.MaxBodyBytes) + `"}`
		rec := httptest.NewRecorder()
		env.entries.HandleCreate(rec, newRequest(http.MethodPost, "/api/entries", huge, "user-a", ""))
		assertError(t, rec, http.StatusBadRequest, "validation_error")
	})

	t.Run("no session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleCreate(rec, newRequest(http.MethodPost, "/api/entries", `{"title":"t","content":"c"}`, "", ""))
		assertError(t, rec, http.StatusUnauthorized, "unauthorized")
	})
}

func TestEntryHandler_GetUpdateDelete(t *testing.T) {
	env := newTestEnv(t)
	entry := env.createEntry(t, "user-a", "Mine", "a")

	rec := httptest.NewRecorder()
	env.entries.HandleGetByID(rec, newRequest(http.MethodGet, "/api/entries/"+entry.ID, "", "user-a", entry.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entry.ID, decodeBody[model.Entry](t, rec).ID)

	rec = httptest.NewRecorder()
	env.entries.HandleUpdate(rec, newRequest(http.MethodPut, "/api/entries/"+entry.ID,
		`{"title":"Renamed","content":"new body"}`, "user-a", entry.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[model.Entry](t, rec)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Empty(t, updated.Tags, "omitted tags are cleared")
	assert.True(t, updated.CreatedAt.Equal(entry.CreatedAt))

	rec = httptest.NewRecorder()
	env.entries.HandleDelete(rec, newRequest(http.MethodDelete, "/api/entries/"+entry.ID, "", "user-a", entry.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Entry deleted successfully"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	env.entries.HandleGetByID(rec, newRequest(http.MethodGet, "/api/entries/"+entry.ID, "", "user-a", entry.ID))
	assertError(t, rec, http.StatusNotFound, "not_found")
}

func TestEntryHandler_ForeignEntryLooksMissing(t *testing.T) {
	env := newTestEnv(t)
	theirs := env.createEntry(t, "user-b", "Private")

	tests := []struct {
		name string
		call func(rec *httptest.ResponseRecorder, id string)
	}{
		{"get", func(rec *httptest.ResponseRecorder, id string) {
			env.entries.HandleGetByID(rec, newRequest(http.MethodGet, "/api/entries/"+id, "", "user-a", id))
		}},
		{"update", func(rec *httptest.ResponseRecorder, id string) {
			env.entries.HandleUpdate(rec, newRequest(http.MethodPut, "/api/entries/"+id,
				`{"title":"hijack","content":"x"}`, "user-a", id))
		}},
		{"delete", func(rec *httptest.ResponseRecorder, id string) {
			env.entries.HandleDelete(rec, newRequest(http.MethodDelete, "/api/entries/"+id, "", "user-a", id))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			foreign := httptest.NewRecorder()
			tt.call(foreign, theirs.ID)
			missing := httptest.NewRecorder()
			tt.call(missing, "does-not-exist")

			assertError(t, foreign, http.StatusNotFound, "not_found")
			assertError(t, missing, http.StatusNotFound, "not_found")
		})
	}

	still, err := env.entrySvc.GetByID(context.Background(), "user-b", theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, "Private", still.Title)
}

func TestEntryHandler_List(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		env.createEntry(t, "user-a", "entry", "daily")
	}
	env.createEntry(t, "user-a", "Trip to Kyoto", "travel")
	env.createEntry(t, "user-b", "Trip elsewhere", "travel")

	t.Run("defaults", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeBody[service.ListPage](t, rec)
		assert.Equal(t, 13, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 2, page.TotalPages)
		assert.Len(t, page.Entries, service.DefaultListLimit)
		assert.Equal(t, "Trip to Kyoto", page.Entries[0].Title, "newest first")
	})

	t.Run("second page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries?page=2&limit=10", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody[service.ListPage](t, rec).Entries, 3)
	})

	t.Run("search and tag", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries?search=KYOTO&tag=travel", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeBody[service.ListPage](t, rec)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "user-a", page.Entries[0].OwnerID)
	})

	t.Run("page past the end", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries?page=9", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeBody[service.ListPage](t, rec)
		assert.Empty(t, page.Entries)
		assert.Equal(t, 13, page.Total)
		assert.Contains(t, rec.Body.String(), `"entries":[]`)
	})

	t.Run("page near the int limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries?page=9223372036854775807&limit=2", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		page := decodeBody[service.ListPage](t, rec)
		assert.Empty(t, page.Entries)
		assert.Equal(t, 13, page.Total)
	})

	for _, q := range []string{"page=abc", "page=0", "limit=-1", "limit=1.5"} {
		t.Run("rejects "+q, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.entries.HandleList(rec, newRequest(http.MethodGet, "/api/entries?"+q, "", "user-a", ""))
			assertError(t, rec, http.StatusBadRequest, "validation_error")
		})
	}
}

func TestEntryHandler_Export(t *testing.T) {
	env := newTestEnv(t)
	image := "data:image/png;base64,AAAA"
	_, err := env.entrySvc.Create(context.Background(), "user-a", service.EntryInput{
		Title: "With picture", Content: "body", Image: &image,
	})
	require.NoError(t, err)
	env.createEntry(t, "user-b", "Not mine")

	t.Run("json by default", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleExport(rec, newRequest(http.MethodGet, "/api/entries/export", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="journal-entries.json"`, rec.Header().Get("Content-Disposition"))

		var exported []map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exported))
		require.Len(t, exported, 1)
		assert.Equal(t, "With picture", exported[0]["title"])
		assert.NotContains(t, exported[0], "image")
	})

	t.Run("markdown", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleExport(rec, newRequest(http.MethodGet, "/api/entries/export?format=markdown", "", "user-a", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `attachment; filename="journal-entries.md"`, rec.Header().Get("Content-Disposition"))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "# My Journal Entries"))
		assert.Contains(t, rec.Body.String(), "## With picture")
		assert.NotContains(t, rec.Body.String(), "Not mine")
	})

	t.Run("unknown format", func(t *testing.T) {
		rec := httptest.NewRecorder()
		env.entries.HandleExport(rec, newRequest(http.MethodGet, "/api/entries/export?format=pdf", "", "user-a", ""))
		assertError(t, rec, http.StatusBadRequest, "validation_error")
	})
}
