package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/storage"
	"github.com/DrSkyle/hybridcost/pkg/tco"
)

// DefaultHistoryWindow is used when the history query omits "from".
const DefaultHistoryWindow = 30 * 24 * time.Hour

type historyResponse struct {
	From      time.Time           `json:"from"`
	To        time.Time           `json:"to"`
	Snapshots []*pricing.Snapshot `json:"snapshots"`
	Trend     storage.Trend       `json:"trend"`
}

type cycleView struct {
	ID               string             `json:"id"`
	State            string             `json:"state"`
	Success          bool               `json:"success"`
	Attempts         int                `json:"attempts"`
	CachedUsed       bool               `json:"cached_used"`
	Provenance       pricing.Provenance `json:"provenance,omitempty"`
	SnapshotID       string             `json:"snapshot_id,omitempty"`
	FailedCategories []pricing.Category `json:"failed_categories,omitempty"`
	Error            string             `json:"error,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
	FinishedAt       time.Time          `json:"finished_at"`
}

type snapshotSummary struct {
	ID                 string             `json:"id"`
	CapturedAt         time.Time          `json:"captured_at"`
	Provenance         pricing.Provenance `json:"provenance"`
	FallbackCategories []pricing.Category `json:"fallback_categories,omitempty"`
}

type statusResponse struct {
	State     string           `json:"state"`
	LastCycle *cycleView       `json:"last_cycle,omitempty"`
	Snapshot  *snapshotSummary `json:"snapshot,omitempty"`
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.deps.Now().UTC().Format(time.RFC3339),
	})
}

// readyCheck succeeds once a snapshot has been published.
func (s *Server) readyCheck(c echo.Context) error {
	if s.deps.Cache == nil || s.deps.Cache.Current() == nil {
		return ErrorServiceUnavailable(c, "no pricing snapshot published yet")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) currentSnapshot(c echo.Context) error {
	snap := s.current()
	if snap == nil {
		return ErrorServiceUnavailable(c, "no pricing snapshot published yet")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) history(c echo.Context) error {
	if s.deps.History == nil {
		return ErrorServiceUnavailable(c, "history is not available")
	}
	from, to, err := s.parseRange(c)
	if err != nil {
		return ErrorBadRequest(c, err.Error())
	}

	snaps, err := storage.Collect(s.deps.History.History(c.Request().Context(), from, to))
	if err != nil {
		s.deps.Logger.Error("history query failed", "from", from, "to", to, "error", err)
		return ErrorInternal(c, "failed to read pricing history")
	}
	if snaps == nil {
		snaps = []*pricing.Snapshot{}
	}
	return c.JSON(http.StatusOK, historyResponse{
		From:      from,
		To:        to,
		Snapshots: snaps,
		Trend:     storage.AnalyzeTrend(snaps),
	})
}

// parseRange reads RFC 3339 "from" and "to" query parameters.
func (s *Server) parseRange(c echo.Context) (time.Time, time.Time, error) {
	to := s.deps.Now().UTC()
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %q is not RFC 3339", raw)
		}
		to = t
	}
	from := to.Add(-DefaultHistoryWindow)
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %q is not RFC 3339", raw)
		}
		from = t
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func (s *Server) status(c echo.Context) error {
	if s.deps.Status == nil {
		return ErrorServiceUnavailable(c, "scheduler is not running")
	}
	resp := statusResponse{State: string(s.deps.Status.State())}
	if res, ok := s.deps.Status.LastResult(); ok {
		v := &cycleView{
			ID:               res.ID,
			State:            string(res.State),
			Success:          res.Success,
			Attempts:         res.Attempts,
			CachedUsed:       res.CachedUsed,
			Provenance:       res.Provenance,
			SnapshotID:       res.SnapshotID,
			FailedCategories: res.FailedCategories,
			StartedAt:        res.StartedAt,
			FinishedAt:       res.FinishedAt,
		}
		if res.Err != nil {
			v.Error = res.Err.Error()
		}
		resp.LastCycle = v
	}
	if snap := s.current(); snap != nil {
		resp.Snapshot = &snapshotSummary{
			ID:                 snap.ID,
			CapturedAt:         snap.CapturedAt,
			Provenance:         snap.Provenance,
			FallbackCategories: snap.FallbackCategories(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) estimate(c echo.Context) error {
	var w tco.Workload
	if err := c.Bind(&w); err != nil {
		return ErrorBadRequest(c, "invalid workload body")
	}
	snap := s.current()
	if snap == nil {
		return ErrorServiceUnavailable(c, "no pricing snapshot published yet")
	}
	cmp, err := tco.Compare(snap, w)
	if err != nil {
		return ErrorBadRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, cmp)
}

func (s *Server) current() *pricing.Snapshot {
	if s.deps.Cache == nil {
		return nil
	}
	return s.deps.Cache.Current()
}
