package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"shelfindex/internal/util"
)

const catalogCSV = `book_id,title,author,isbn,description,genre,publication_year
1,The Hobbit,J.R.R. Tolkien,9780547928227,"A hobbit, a dragon and a long walk.",Fantasy,1937
2,Dune,Frank Herbert,9780441172719,Spice and sand.,Science Fiction,1965
3,Untitled Draft,Anonymous,0000000000,,Misc,
`

const rentalsCSV = `user_id,book_id,checkout_date,return_date
student_001,1,2024-01-03,2024-01-20
student_001,2,2024-02-01,
student_002,1,2024-02-03 10:00:00,2099-01-01
student_001,3,2024-03-01,2024-03-10
student_001,99,2024-04-01,2024-04-02
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoadTables(t *testing.T) {
	l := newLoader(t)
	tables, err := l.Load(context.Background(), writeFile(t, "book_catalog.csv", catalogCSV), writeFile(t, "rental_history.csv", rentalsCSV))
	require.NoError(t, err)

	require.Len(t, tables.Books, 3)
	require.Equal(t, int64(1), tables.Books[0].BookID)
	require.Equal(t, "A hobbit, a dragon and a long walk.", tables.Books[0].Description)
	require.Equal(t, 1937, tables.Books[0].PublicationYear)
	require.Equal(t, "", tables.Books[2].Description)
	require.Equal(t, 0, tables.Books[2].PublicationYear)

	require.Len(t, tables.Interactions, 5)
	require.Nil(t, tables.Interactions[1].ReturnDate)
	require.NotNil(t, tables.Interactions[2].ReturnDate)
	require.Equal(t, 2099, tables.Interactions[2].ReturnDate.Year())
	require.Equal(t, 1, tables.OrphanInteractions)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		catalog string
	}{
		{"missing column", "book_id,title,author,isbn,genre,publication_year\n1,a,b,c,d,2000\n"},
		{"unparseable id", "book_id,title,author,isbn,description,genre,publication_year\nabc,a,b,c,d,e,2000\n"},
		{"non-positive id", "book_id,title,author,isbn,description,genre,publication_year\n0,a,b,c,d,e,2000\n"},
		{"duplicate id", "book_id,title,author,isbn,description,genre,publication_year\n1,a,b,c,d,e,2000\n1,a,b,c,d,e,2001\n"},
		{"bad year", "book_id,title,author,isbn,description,genre,publication_year\n1,a,b,c,d,e,MCMXC\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLoader(t)
			_, err := l.Load(context.Background(), writeFile(t, "c.csv", tc.catalog), writeFile(t, "r.csv", rentalsCSV))
			require.Error(t, err)
			require.True(t, errors.Is(err, util.ErrDataLoad), err.Error())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := newLoader(t)
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), writeFile(t, "r.csv", rentalsCSV))
	require.ErrorIs(t, err, util.ErrDataLoad)
}

func TestLoadBadInteractionDate(t *testing.T) {
	l := newLoader(t)
	rentals := "user_id,book_id,checkout_date,return_date\nstudent_001,1,yesterday,\n"
	_, err := l.Load(context.Background(), writeFile(t, "c.csv", catalogCSV), writeFile(t, "r.csv", rentals))
	require.ErrorIs(t, err, util.ErrDataLoad)
}

func TestUserHistoryKeepsLastN(t *testing.T) {
	l := newLoader(t)
	hist, err := l.UserHistory(context.Background(), writeFile(t, "r.csv", rentalsCSV), "student_001", 3)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.Equal(t, []int64{2, 3, 99}, []int64{hist[0].BookID, hist[1].BookID, hist[2].BookID})

	none, err := l.UserHistory(context.Background(), writeFile(t, "r.csv", rentalsCSV), "nobody", 3)
	require.NoError(t, err)
	require.Empty(t, none)
}
