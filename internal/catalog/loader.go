package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"shelfindex/internal/models"
	"shelfindex/internal/util"
)

var (
	CatalogColumns     = []string{"book_id", "title", "author", "isbn", "description", "genre", "publication_year"}
	InteractionColumns = []string{"user_id", "book_id", "checkout_date", "return_date"}
)

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339, "2006-01-02T15:04:05"}

type Tables struct {
	Books        []models.Book
	Interactions []models.Interaction
	// OrphanInteractions counts rentals whose book_id is not in the catalog.
	OrphanInteractions int
}

// Loader reads delimited tables through an in-memory DuckDB.
type Loader struct {
	db *sql.DB
}

func NewLoader() (*Loader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Loader{db: db}, nil
}

func (l *Loader) Close() error {
	return l.db.Close()
}

func (l *Loader) Load(ctx context.Context, catalogPath, interactionsPath string) (Tables, error) {
	books, err := l.LoadBooks(ctx, catalogPath)
	if err != nil {
		return Tables{}, err
	}
	interactions, err := l.LoadInteractions(ctx, interactionsPath)
	if err != nil {
		return Tables{}, err
	}
	known := make(map[int64]struct{}, len(books))
	for _, b := range books {
		known[b.BookID] = struct{}{}
	}
	orphans := 0
	for _, it := range interactions {
		if _, ok := known[it.BookID]; !ok {
			orphans++
		}
	}
	return Tables{Books: books, Interactions: interactions, OrphanInteractions: orphans}, nil
}

func (l *Loader) LoadBooks(ctx context.Context, path string) ([]models.Book, error) {
	rows, err := l.readTable(ctx, path, CatalogColumns, "", nil)
	if err != nil {
		return nil, err
	}
	out := make([]models.Book, 0, len(rows))
	seen := make(map[int64]int, len(rows))
	for i, r := range rows {
		line := i + 2
		id, err := parseBookID(r["book_id"])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", util.ErrDataLoad, path, line, err)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s line %d: duplicate book_id %d (first on line %d)", util.ErrDataLoad, path, line, id, prev)
		}
		seen[id] = line
		year, err := parseYear(r["publication_year"])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", util.ErrDataLoad, path, line, err)
		}
		out = append(out, models.Book{
			BookID:          id,
			Title:           r["title"],
			Author:          r["author"],
			ISBN:            strings.TrimSpace(r["isbn"]),
			Description:     r["description"],
			Genre:           strings.TrimSpace(r["genre"]),
			PublicationYear: year,
		})
	}
	return out, nil
}

func (l *Loader) LoadInteractions(ctx context.Context, path string) ([]models.Interaction, error) {
	rows, err := l.readTable(ctx, path, InteractionColumns, "", nil)
	if err != nil {
		return nil, err
	}
	return toInteractions(path, rows)
}

// UserHistory returns the last n rentals of userID in file order.
func (l *Loader) UserHistory(ctx context.Context, path, userID string, n int) ([]models.Interaction, error) {
	rows, err := l.readTable(ctx, path, InteractionColumns, "trim(user_id) = ?", []any{strings.TrimSpace(userID)})
	if err != nil {
		return nil, err
	}
	all, err := toInteractions(path, rows)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func toInteractions(path string, rows []map[string]string) ([]models.Interaction, error) {
	out := make([]models.Interaction, 0, len(rows))
	for i, r := range rows {
		line := i + 2
		user := strings.TrimSpace(r["user_id"])
		if user == "" {
			return nil, fmt.Errorf("%w: %s line %d: empty user_id", util.ErrDataLoad, path, line)
		}
		id, err := parseBookID(r["book_id"])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", util.ErrDataLoad, path, line, err)
		}
		checkout, err := parseDate(r["checkout_date"])
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: checkout_date: %v", util.ErrDataLoad, path, line, err)
		}
		it := models.Interaction{UserID: user, BookID: id, CheckoutDate: checkout}
		if strings.TrimSpace(r["return_date"]) != "" {
			ret, err := parseDate(r["return_date"])
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: return_date: %v", util.ErrDataLoad, path, line, err)
			}
			it.ReturnDate = &ret
		}
		out = append(out, it)
	}
	return out, nil
}

// readTable returns every row as column->value. All cells are read as text;
// NULL becomes "".
func (l *Loader) readTable(ctx context.Context, path string, required []string, where string, args []any) ([]map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrDataLoad, err)
	}
	query := "SELECT * FROM read_csv(" + quoteLiteral(path) + ", header=true, all_varchar=true)"
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", util.ErrDataLoad, path, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns of %s: %v", util.ErrDataLoad, path, err)
	}
	for i := range cols {
		cols[i] = strings.ToLower(strings.TrimSpace(cols[i]))
	}
	if missing := missingColumns(cols, required); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s is missing required columns %s", util.ErrDataLoad, path, strings.Join(missing, ", "))
	}

	out := make([]map[string]string, 0, 128)
	cells := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", util.ErrDataLoad, path, err)
		}
		row := make(map[string]string, len(cols))
		for i, c := range cols {
			row[c] = cells[i].String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s: %v", util.ErrDataLoad, path, err)
	}
	return out, nil
}

func missingColumns(have, required []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	var missing []string
	for _, c := range required {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func parseBookID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty book_id")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Spreadsheet exports write integral ids as "12.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int64(f)) {
			return 0, fmt.Errorf("book_id %q is not an integer", raw)
		}
		id = int64(f)
	}
	if id <= 0 {
		return 0, fmt.Errorf("book_id %d must be positive", id)
	}
	return id, nil
}

func parseYear(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	y, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("publication_year %q is not an integer", raw)
	}
	return y, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
