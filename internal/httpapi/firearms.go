package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/rickgao/auction-intel/internal/model"
	"github.com/rickgao/auction-intel/internal/store"
)

const (
	defaultAuctionLimit = 100
	endingSoonWindow    = 24 * time.Hour
	healthTimeout       = 5 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	health := struct {
		Success     bool           `json:"success"`
		Status      string         `json:"status"`
		Timestamp   string         `json:"timestamp"`
		Environment string         `json:"environment"`
		Components  map[string]any `json:"components"`
	}{
		Success:     true,
		Status:      "healthy",
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		Environment: s.cfg.Environment,
		Components:  make(map[string]any),
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		health.Success = false
		health.Status = "unhealthy"
		health.Components["database"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["database"] = "connected"
	}

	if s.deps.Queue != nil {
		st := s.deps.Queue.Status()
		health.Components["enrichment_queue"] = map[string]any{
			"queued":     st.QueueLength,
			"processing": st.IsProcessing,
		}
	}
	if s.deps.Scraper != nil {
		health.Components["scraper"] = map[string]any{
			"active": s.deps.Scraper.Progress().IsActive,
		}
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	f, err := auctionFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	auctions, err := s.deps.Store.ListListings(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auctions": nonNil(auctions), "count": len(auctions)})
}

// auctionFilter builds the active-listing filter from query parameters.
func auctionFilter(r *http.Request) (store.ListingFilter, error) {
	q := r.URL.Query()
	f := store.ListingFilter{
		Statuses:        []model.ListingStatus{model.StatusActive},
		Category:        q.Get("category"),
		Manufacturer:    q.Get("manufacturer"),
		Caliber:         q.Get("caliber"),
		Condition:       q.Get("condition"),
		State:           q.Get("state"),
		AuctionHouse:    q.Get("auctionHouse"),
		EstateSalesOnly: queryBool(r, "estateSalesOnly"),
		NFAOnly:         queryBool(r, "nfaOnly"),
		OrderBy:         store.OrderScrapedDesc,
	}

	var err error
	if f.MinPrice, err = queryFloat(r, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryFloat(r, "maxPrice"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit", defaultAuctionLimit); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	auction, err := s.deps.Store.GetListing(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auction": auction})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Scraper.StartScrape(s.baseCtx) {
		writeMessage(w, http.StatusConflict, "Scraping already in progress")
		return
	}
	s.logger.Info("scrape started", "request_id", middleware.GetReqID(r.Context()))
	writeMessage(w, http.StatusOK, "Scraping started in background")
}

func (s *Server) handleScrapeURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		s.writeError(w, r, badRequest("url is required"))
		return
	}

	auction, err := s.deps.Scraper.ScrapeByURL(r.Context(), body.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auction": auction})
}

func (s *Server) handleScrapeProgress(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"progress": s.deps.Scraper.Progress()})
}

// handleProgressStream pushes the progress snapshot whenever its version
// changes until the client disconnects or the server shuts down.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()

	var last uint64
	sent := false
	for {
		p := s.deps.Scraper.Progress()
		if !sent || p.Version != last {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(map[string]any{"success": true, "progress": p}); err != nil {
				s.logger.Debug("progress stream closed", "err", err)
				return
			}
			last, sent = p.Version, true
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleScrapeStats(w http.ResponseWriter, r *http.Request) {
	run := s.deps.Scraper.LastRunStats()
	discovered, saved := run.Totals()
	writeOK(w, map[string]any{
		"run":        run,
		"coverage":   run.Coverage(),
		"discovered": discovered,
		"saved":      saved,
	})
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Enricher.Enrich(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		s.logger.Error("enrichment failed", "auction_id", id, "err", err)
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, map[string]any{"enrichment": result})
}

func (s *Server) handleEnrichAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Force bool `json:"force"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}

	var statuses []model.EnrichmentStatus
	if !body.Force {
		statuses = []model.EnrichmentStatus{model.EnrichmentPending}
	}
	ids, err := s.deps.Store.ListIDs(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.deps.Enricher.EnrichBatch(s.baseCtx, ids, s.cfg.BatchConcurrency)
		if err != nil {
			s.logger.Warn("batch enrichment stopped", "err", err)
		}
		s.logger.Info("batch enrichment complete",
			"force", body.Force,
			"successful", res.Successful,
			"failed", res.Failed,
		)
	}()

	writeMessage(w, http.StatusOK, fmt.Sprintf("Enriching %d auctions in background", len(ids)))
}

func (s *Server) handleEnrichmentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.EnrichmentStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"stats": stats})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		writeMessage(w, http.StatusNotFound, "Enrichment queue not running")
		return
	}
	writeOK(w, map[string]any{"queue": s.deps.Queue.Status()})
}

func (s *Server) endingSoonFilter() store.ListingFilter {
	now := s.now()
	until := now.Add(endingSoonWindow)
	return store.ListingFilter{
		Statuses:        []model.ListingStatus{model.StatusActive},
		AuctionDateFrom: &now,
		AuctionDateTo:   &until,
		OrderBy:         store.OrderAuctionDateAsc,
	}
}

func (s *Server) handleEndingSoon(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.deps.Store.ListListings(r.Context(), s.endingSoonFilter())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"auctions": nonNil(auctions), "count": len(auctions)})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.deps.Store.CategoryCounts(r.Context(), store.ListingFilter{
		Statuses: []model.ListingStatus{model.StatusActive},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"categories": nonNil(categories)})
}

func (s *Server) handleSiteCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.SiteCache == nil {
		writeMessage(w, http.StatusNotFound, "Site cache not configured")
		return
	}
	stats, err := s.deps.SiteCache.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"stats": stats})
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
