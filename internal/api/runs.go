package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jdholdren/apod/internal/apod"
	apoderrs "github.com/jdholdren/apod/internal/errors"
	"github.com/jdholdren/apod/internal/logger"
	"github.com/jdholdren/apod/internal/serverutil"
)

// The first day the archive has a picture for.
var firstDate = apod.Date{Year: 1995, Month: time.June, Day: 16}

// A missing date means today.
type runReq struct {
	Date apod.Date `json:"date"`
}

func (r runReq) Validate() error {
	if r.Date.IsZero() {
		return nil
	}
	if r.Date.Time().Before(firstDate.Time()) {
		return fmt.Errorf("date must be on or after %s", firstDate)
	}

	return nil
}

type runResp struct {
	Date   apod.Date      `json:"date"`
	Record apod.StoredRow `json:"record"`
}

func (s *Server) postRun(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[runReq](r.Body)
	if err != nil {
		return apoderrs.E(http.StatusBadRequest, err, apoderrs.Detail{Field: "date", Error: err.Error()})
	}

	date := req.Date
	if date.IsZero() {
		date = apod.DateOf(s.now().In(s.zone))
	}
	ctx := logger.Ctx(r.Context(), slog.String("logical_date", date.String()))

	res, err := s.trigger.TriggerRun(ctx, date)
	if err != nil {
		slog.ErrorContext(ctx, "manual run failed", "error", err)
		return err
	}
	// Whatever was cached for the day is stale now
	s.recordCache.Remove(res.Date.String())

	row, err := s.repo.Record(ctx, res.Date)
	if errors.Is(err, apod.ErrNotFound) {
		return apoderrs.E(http.StatusInternalServerError, "run finished without a record for "+res.Date.String())
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, runResp{Date: res.Date, Record: row})
}
