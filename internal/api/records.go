package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jdholdren/apod/internal/apod"
	apoderrs "github.com/jdholdren/apod/internal/errors"
	"github.com/jdholdren/apod/internal/serverutil"
)

type recordsResp struct {
	Records    []apod.StoredRow `json:"records"`
	Pagination paginationMeta   `json:"pagination"`
}

func (s *Server) getRecords(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	limit, offset := parsePaginationParams(r, defaultPageLimit, maxPageLimit)

	rows, err := s.repo.Records(ctx, offset, limit)
	if err != nil {
		return err
	}
	total, err := s.repo.CountRecords(ctx)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, recordsResp{
		Records: rows,
		Pagination: paginationMeta{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) error {
	date, err := apod.ParseDate(mux.Vars(r)["date"])
	if err != nil {
		return apoderrs.E(http.StatusBadRequest, "date must be YYYY-MM-DD", apoderrs.Detail{Field: "date", Error: err.Error()})
	}

	if row, ok := s.recordCache.Get(date.String()); ok {
		return serverutil.WriteJSON(w, http.StatusOK, row)
	}

	row, err := s.repo.Record(r.Context(), date)
	if errors.Is(err, apod.ErrNotFound) {
		return apoderrs.E(http.StatusNotFound, "no record for "+date.String())
	}
	if err != nil {
		return err
	}
	if s.cacheable(date) {
		s.recordCache.Add(date.String(), row)
	}

	return serverutil.WriteJSON(w, http.StatusOK, row)
}

// The worker's scheduled run can still rewrite today and yesterday without
// this process hearing about it, so only older days are cached.
func (s *Server) cacheable(date apod.Date) bool {
	today := apod.DateOf(s.now().In(s.zone))
	return date.Time().Before(today.Time().AddDate(0, 0, -1))
}
