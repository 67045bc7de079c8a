package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/triage-ai/blinkguard/internal/chread"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	params := chread.ListEventsParams{
		ProjectID: projectID,
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	if params.Page < 1 {
		params.Page = 1
	}

	params.Kind = queryString(q, "kind")
	params.Outcome = queryString(q, "outcome")
	params.Classification = queryString(q, "classification")
	params.OriginType = queryString(q, "origin_type")
	params.ActionHost = queryString(q, "action_host")
	if v := q.Get("allowed"); v != "" {
		b := v == "true" || v == "1"
		params.Allowed = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]EventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	eventID := r.PathValue("event_id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	event, err := d.Reader.GetEvent(r.Context(), projectID, eventID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if event == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, eventRowToResp(*event))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), projectID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// eventRowToResp converts a ClickHouse EventRow to the API response.
func eventRowToResp(e chread.EventRow) EventResp {
	return EventResp{
		EventID:        e.EventID,
		ProjectID:      e.ProjectID,
		Kind:           e.Kind,
		Link:           e.Link,
		ActionURL:      e.ActionURL,
		ActionHost:     e.ActionHost,
		OriginURL:      nilIfEmpty(e.OriginURL),
		OriginType:     nilIfEmpty(e.OriginType),
		ActionState:    e.ActionState,
		OriginState:    nilIfEmpty(e.OriginState),
		Classification: e.Classification,
		Allowed:        e.Allowed == 1,
		Outcome:        e.Outcome,
		ErrorMessage:   nilIfEmpty(e.ErrorMessage),
		Account:        nilIfEmpty(e.Account),
		ComponentLabel: nilIfEmpty(e.ComponentLabel),
		LatencyMs:      e.LatencyMs,
		Source:         e.Source,
		Timestamp:      e.Timestamp,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type queryGetter interface{ Get(string) string }

func queryString(q queryGetter, key string) *string {
	return nilIfEmpty(q.Get(key))
}

func queryInt(q queryGetter, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
