package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"shelfindex/internal/logging"
	"shelfindex/internal/models"
	"shelfindex/internal/util"
)

type bookView struct {
	BookID          int64   `json:"book_id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            string  `json:"isbn"`
	Genre           string  `json:"genre"`
	PublicationYear int     `json:"publication_year"`
	Snippet         string  `json:"snippet"`
	Score           float64 `json:"score,omitempty"`
}

func viewOf(b models.Book, score float64, query string) bookView {
	snippet := util.Snippet(b.Description, 0)
	if query != "" {
		snippet = util.MatchingSnippet(b.Description, query, 0)
	}
	return bookView{
		BookID:          b.BookID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Genre:           b.Genre,
		PublicationYear: b.PublicationYear,
		Snippet:         snippet,
		Score:           score,
	}
}

type recommendation struct {
	bookView
	BecauseYouRead int64 `json:"because_you_read"`
}

// handleRecommendations takes the user's last three rentals, finds the
// nearest books by content for each and returns up to k unread, distinct
// books.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("user_id is required"))
		return
	}
	k, err := parseK(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	history, err := s.history.UserHistory(r.Context(), s.cfg.InteractionsPath, userID, historyDepth)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	read := make(map[int64]bool, len(history))
	recent := make([]models.BookDocument, 0, len(history))
	for _, it := range history {
		if read[it.BookID] {
			continue
		}
		read[it.BookID] = true
		doc, err := s.store.Get(r.Context(), s.cfg.IndexName, it.BookID)
		if err != nil {
			logging.Warn().Err(err).Str("user_id", userID).Int64("book_id", it.BookID).Msg("history book missing from index")
			continue
		}
		recent = append(recent, doc)
	}
	if len(recent) == 0 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("no reading history found for user %s", userID))
		return
	}

	seen := map[int64]bool{}
	recs := make([]recommendation, 0, k)
	for _, doc := range recent {
		hits, err := s.store.KNN(r.Context(), s.cfg.IndexName, models.FieldContentEmbedding, doc.ContentEmbedding, similarPerHistory)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		for _, h := range hits {
			if read[h.BookID] || seen[h.BookID] {
				continue
			}
			seen[h.BookID] = true
			recs = append(recs, recommendation{bookView: viewOf(h.Book, h.Score, ""), BecauseYouRead: doc.BookID})
		}
	}
	if len(recs) > k {
		recs = recs[:k]
	}

	historyOut := make([]bookView, 0, len(recent))
	for _, d := range recent {
		historyOut = append(historyOut, viewOf(d.Book, 0, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         userID,
		"history":         historyOut,
		"recommendations": recs,
	})
}
