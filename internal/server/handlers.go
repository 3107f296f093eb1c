package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/infovore/internal/content"
	"github.com/bryan-buckman/infovore/internal/crawler"
	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/bryan-buckman/infovore/internal/opml"
	"github.com/bryan-buckman/infovore/internal/rss"
	"github.com/bryan-buckman/infovore/internal/seed"
	"github.com/go-chi/chi/v5"
)

// maxUploadSize caps OPML uploads.
const maxUploadSize = 10 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": s.store.DatabaseType(),
		"phase":    s.crawler.Phase().String(),
	})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.SubscriptionFilter{Keyword: strings.TrimSpace(q.Get("q"))}
	if v := q.Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		filter.CategoryID = &id
	}
	page, err := s.store.ListSubscriptions(r.Context(), filter, pageRequest(r))
	if err != nil {
		s.serverError(w, "list subscriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, newPageView(page, newSubscriptionView))
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sub, err := s.store.FindSubscription(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		s.serverError(w, "find subscription", err)
		return
	}
	view := subscriptionDetail{subscriptionView: newSubscriptionView(*sub)}
	cfg, err := s.store.FindBuildConfig(r.Context(), id)
	switch {
	case err == nil:
		view.BuildConfig = newBuildConfigView(*cfg)
	case !errors.Is(err, database.ErrNotFound):
		s.serverError(w, "find build config", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	query := model.BuildRecordQuery{SubscriptionIDs: []int64{id}, Page: pageRequest(r)}
	if v := r.URL.Query().Get("status"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		query.Statuses = []model.BuildStatus{model.BuildStatus(n)}
	}
	page, err := s.store.QueryBuildRecords(r.Context(), query)
	if err != nil {
		s.serverError(w, "query build records", err)
		return
	}
	writeJSON(w, http.StatusOK, newPageView(page, newRecordView))
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.ArticleFilter
	if v := q.Get("subscription_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid subscription_id")
			return
		}
		filter.SubscriptionIDs = []int64{id}
	}
	for key, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key+": want RFC 3339")
			return
		}
		*dst = &t
	}
	page, err := s.store.ListArticles(r.Context(), filter, pageRequest(r))
	if err != nil {
		s.serverError(w, "list articles", err)
		return
	}
	writeJSON(w, http.StatusOK, newPageView(page, newArticleView))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionIDs []int64 `json:"subscription_ids"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	var report crawler.Report
	var err error
	if len(req.SubscriptionIDs) > 0 {
		var page model.Page[model.Subscription]
		page, err = s.store.ListSubscriptions(ctx, model.SubscriptionFilter{IDs: req.SubscriptionIDs}, model.MaxPage())
		if err != nil {
			s.serverError(w, "list subscriptions", err)
			return
		}
		report, err = s.crawler.Refresh(ctx, page.Items)
	} else {
		report, err = s.crawler.Run(ctx)
	}
	if errors.Is(err, crawler.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.serverError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"selected":     report.Selected,
		"succeeded":    report.Succeeded,
		"failed":       report.Failed,
		"productive":   report.Productive,
		"new_articles": report.Inserted,
		"updated":      report.Updated,
		"refitted":     report.Refitted,
		"duration_ms":  report.Duration.Milliseconds(),
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.crawler.Cleanup(r.Context())
	if errors.Is(err, crawler.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.serverError(w, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"deleted": deleted,
	})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	res, err := s.importer.ImportOPML(r.Context(), file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse OPML: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		seed.Result
	}{"ok", res})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	entries, err := seed.Entries(r.Context(), s.store)
	if err != nil {
		s.serverError(w, "export subscriptions", err)
		return
	}
	data, err := opml.Export("Infovore Subscriptions", entries, time.Now())
	if err != nil {
		s.serverError(w, "export opml", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=infovore-subscriptions.opml")
	w.Write(data)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	body, err := s.pages.FetchOnce(r.Context(), rss.Request{URL: req.URL})
	if err != nil {
		s.logger.Warn("preview fetch failed", "url", req.URL, "error", err)
		writeError(w, http.StatusBadGateway, "failed to fetch page")
		return
	}
	meta := content.ExtractMetadata(body)
	if meta.URL == "" {
		meta.URL = req.URL
	}
	writeJSON(w, http.StatusOK, meta)
}

// --- Helpers ---

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func pageRequest(r *http.Request) model.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return model.PageRequest{Page: page, PageSize: size}.Normalize()
}
