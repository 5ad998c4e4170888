// Package repositorytest holds the behaviour every EntryRepository must
// share. Each store package runs it against its own backend.
package repositorytest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// RunEntryRepository runs the shared entry store cases against repo. Owners
// are fresh IDs per case, so repo may be a database other tests also use.
func RunEntryRepository(t *testing.T, repo repository.EntryRepository) {
	t.Helper()

	cases := []struct {
		name string
		run  func(t *testing.T, repo repository.EntryRepository)
	}{
		{"create and get", testCreateAndGet},
		{"foreign entry looks missing", testForeignEntryLooksMissing},
		{"update replaces fields", testUpdateReplaces},
		{"delete", testDelete},
		{"pagination", testPagination},
		{"owner isolation in list", testListOwnerIsolation},
		{"search and tag", testSearchAndTag},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) { c.run(t, repo) })
	}
}

func newOwner() string {
	return "owner-" + xid.New().String()
}

func create(t *testing.T, repo repository.EntryRepository, owner, title, content string, tags ...string) *model.Entry {
	t.Helper()
	e := &model.Entry{Title: title, Content: content, Tags: tags}
	require.NoError(t, repo.Create(context.Background(), owner, e))
	return e
}

func isNotFound(err error) bool {
	return errors.Is(err, apperror.ErrNotFound)
}

func testCreateAndGet(t *testing.T, repo repository.EntryRepository) {
	owner := newOwner()
	image := "data:image/png;base64,AAAA"
	e := &model.Entry{
		Title:        "Day one",
		Content:      "hello",
		Image:        &image,
		Tags:         []string{"life", "Life"},
		CustomFields: model.CustomFields{"mood": model.StringField("calm"), "steps": model.NumberField(8000)},
	}
	require.NoError(t, repo.Create(context.Background(), owner, e))

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, owner, e.OwnerID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.True(t, e.CreatedAt.Equal(e.UpdatedAt))

	found, err := repo.GetByID(context.Background(), owner, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Title, found.Title)
	assert.Equal(t, []string{"life", "Life"}, found.Tags)
	require.NotNil(t, found.Image)
	assert.Equal(t, image, *found.Image)
	assert.Equal(t, "calm", found.CustomFields["mood"].String())
	assert.True(t, found.CreatedAt.Equal(e.CreatedAt), "stored %v, returned %v", found.CreatedAt, e.CreatedAt)
}

func testForeignEntryLooksMissing(t *testing.T, repo repository.EntryRepository) {
	owner, intruder := newOwner(), newOwner()
	e := create(t, repo, owner, "private", "secret")
	ctx := context.Background()

	_, err := repo.GetByID(ctx, intruder, e.ID)
	assert.True(t, isNotFound(err), "get: %v", err)

	err = repo.Update(ctx, intruder, &model.Entry{ID: e.ID, Title: "hijack", Content: "x"})
	assert.True(t, isNotFound(err), "update: %v", err)

	err = repo.Delete(ctx, intruder, e.ID)
	assert.True(t, isNotFound(err), "delete: %v", err)

	_, err = repo.GetByID(ctx, owner, xid.New().String())
	assert.True(t, isNotFound(err), "missing id: %v", err)

	found, err := repo.GetByID(ctx, owner, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "private", found.Title)
	assert.Equal(t, "secret", found.Content)
}

func testUpdateReplaces(t *testing.T, repo repository.EntryRepository) {
	owner := newOwner()
	image := "data:image/png;base64,AAAA"
	e := &model.Entry{
		Title:        "draft",
		Content:      "v1",
		Image:        &image,
		Tags:         []string{"a"},
		CustomFields: model.CustomFields{"k": model.BoolField(true)},
	}
	require.NoError(t, repo.Create(context.Background(), owner, e))

	update := &model.Entry{ID: e.ID, Title: "final", Content: "v2"}
	update.Normalize()
	require.NoError(t, repo.Update(context.Background(), owner, update))
	assert.True(t, update.CreatedAt.Equal(e.CreatedAt))
	assert.False(t, update.UpdatedAt.Before(e.UpdatedAt))

	found, err := repo.GetByID(context.Background(), owner, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", found.Title)
	assert.Equal(t, "v2", found.Content)
	assert.Nil(t, found.Image)
	assert.Empty(t, found.Tags)
	assert.Empty(t, found.CustomFields)
	assert.True(t, found.CreatedAt.Equal(e.CreatedAt))
}

func testDelete(t *testing.T, repo repository.EntryRepository) {
	owner := newOwner()
	e := create(t, repo, owner, "gone", "soon", "x")

	require.NoError(t, repo.Delete(context.Background(), owner, e.ID))

	_, err := repo.GetByID(context.Background(), owner, e.ID)
	assert.True(t, isNotFound(err))
	assert.True(t, isNotFound(repo.Delete(context.Background(), owner, e.ID)), "second delete")

	_, total, err := repo.List(context.Background(), owner, repository.ListFilter{Tag: "x"})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func testPagination(t *testing.T, repo repository.EntryRepository) {
	owner := newOwner()
	var created []string
	for i := 0; i < 25; i++ {
		created = append(created, create(t, repo, owner, fmt.Sprintf("e%02d", i), "c").ID)
	}

	seen := map[string]bool{}
	for _, tc := range []struct{ page, want int }{{1, 10}, {2, 10}, {3, 5}, {4, 0}} {
		entries, total, err := repo.List(context.Background(), owner,
			repository.ListFilter{Offset: (tc.page - 1) * 10, Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 25, total, "page %d", tc.page)
		require.Len(t, entries, tc.want, "page %d", tc.page)

		for i, e := range entries {
			assert.False(t, seen[e.ID], "entry %s returned twice", e.ID)
			seen[e.ID] = true
			if i > 0 {
				assert.False(t, e.CreatedAt.After(entries[i-1].CreatedAt), "page %d not newest first", tc.page)
			}
		}
		if tc.page == 1 {
			assert.Equal(t, created[len(created)-1], entries[0].ID, "latest entry first")
		}
	}
	assert.Len(t, seen, 25)

	all, total, err := repo.List(context.Background(), owner, repository.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 25, total)
	assert.Len(t, all, 25, "zero limit means everything")
}

func testListOwnerIsolation(t *testing.T, repo repository.EntryRepository) {
	a, b := newOwner(), newOwner()
	mine := create(t, repo, a, "shared words", "c", "t")
	create(t, repo, b, "shared words", "c", "t")

	for _, f := range []repository.ListFilter{{}, {Search: "shared"}, {Tag: "t"}} {
		entries, total, err := repo.List(context.Background(), a, f)
		require.NoError(t, err)
		assert.Equal(t, 1, total, "filter %+v", f)
		require.Len(t, entries, 1)
		assert.Equal(t, mine.ID, entries[0].ID)
		assert.Equal(t, a, entries[0].OwnerID)
	}
}

func testSearchAndTag(t *testing.T, repo repository.EntryRepository) {
	owner := newOwner()
	title := create(t, repo, owner, "Morning RUN", "legs", "Health")
	content := create(t, repo, owner, "notes", "ran 5% faster (a.b)", "health")
	create(t, repo, owner, "other", "nothing", "work")
	ctx := context.Background()

	ids := func(entries []model.Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	entries, _, err := repo.List(ctx, owner, repository.ListFilter{Search: "run"})
	require.NoError(t, err)
	assert.Equal(t, []string{title.ID}, ids(entries), "case-insensitive title match")

	entries, _, err = repo.List(ctx, owner, repository.ListFilter{Search: "5% faster (a.b)"})
	require.NoError(t, err)
	assert.Equal(t, []string{content.ID}, ids(entries), "metacharacters are literal")

	entries, _, err = repo.List(ctx, owner, repository.ListFilter{Search: "a.c"})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, _, err = repo.List(ctx, owner, repository.ListFilter{Tag: "health"})
	require.NoError(t, err)
	assert.Equal(t, []string{content.ID}, ids(entries), "tags match case-sensitively")

	entries, total, err := repo.List(ctx, owner, repository.ListFilter{Tag: "Health", Search: "legs"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []string{title.ID}, ids(entries))
}
