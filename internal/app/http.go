package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"langify/api/internal/search"
	"langify/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		var body struct {
			Username string `json:"username"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.RegisterUser(r.Context(), body.Username)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(user))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/works" {
		var body CreateOriginalWorkInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		work, err := s.service.CreateOriginalWork(r.Context(), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, originalWorkPayload(work))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 3 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "users":
		s.handleUsers(w, r, parts)
	case "works":
		s.handleWorks(w, r, parts)
	case "translations":
		s.handleTranslations(w, r, parts)
	case "segments":
		s.handleSegments(w, r, parts)
	case "history":
		s.handleHistory(w, r, parts)
	case "comments":
		s.handleComments(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	userID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "user id must be an integer", nil)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		user, err := s.service.User(r.Context(), userID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, userPayload(user))
		return
	}

	if len(parts) == 4 && parts[3] == "reputation" && r.Method == http.MethodPut {
		var body struct {
			Language string `json:"language"`
			Score    int    `json:"score"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetReputation(r.Context(), userID, body.Language, body.Score); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleWorks(w http.ResponseWriter, r *http.Request, parts []string) {
	key := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		work, err := s.service.OriginalWork(r.Context(), key)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, originalWorkPayload(work))
		return
	}

	if len(parts) == 4 && parts[3] == "translations" && r.Method == http.MethodPost {
		var body struct {
			Language string `json:"language"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		work, err := s.service.OriginalWork(r.Context(), key)
		if err != nil {
			s.fail(w, err)
			return
		}
		translation, err := s.service.CreateTranslatedWork(r.Context(), work.ID, body.Language)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, translatedWorkPayload(translation))
		return
	}

	if len(parts) == 5 && parts[3] == "translations" && r.Method == http.MethodGet {
		work, err := s.service.OriginalWork(r.Context(), key)
		if err != nil {
			s.fail(w, err)
			return
		}
		translation, err := s.service.Translation(r.Context(), work.ID, parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, translatedWorkPayload(translation))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleTranslations(w http.ResponseWriter, r *http.Request, parts []string) {
	workID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "work id must be an integer", nil)
		return
	}
	if len(parts) != 4 || r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch parts[3] {
	case "segments":
		views, err := s.service.WorkSegments(r.Context(), workID)
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := make([]map[string]any, len(views))
		for i, v := range views {
			payload[i] = segmentViewPayload(v)
		}
		writeJSON(w, http.StatusOK, map[string]any{"segments": payload})
	case "toc":
		entries, err := s.service.TableOfContents(r.Context(), workID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chapters": entries})
	case "statistics":
		stats, err := s.service.WorkStatistics(r.Context(), workID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statisticsPayload(stats))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSegments(w http.ResponseWriter, r *http.Request, parts []string) {
	segmentID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "segment id must be an integer", nil)
		return
	}

	if len(parts) == 3 && r.Method == http.MethodPost {
		var body struct {
			UserID       int64    `json:"userId"`
			Role         string   `json:"role"`
			Content      *string  `json:"content"`
			Tag          *string  `json:"tag"`
			Reference    *string  `json:"reference"`
			UpdateFields []string `json:"updateFields"`
			WithHistory  bool     `json:"withHistory"`
			ChangeReason string   `json:"changeReason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		saved, err := s.service.SaveSegment(r.Context(), SaveSegmentInput{
			SegmentID:    segmentID,
			UserID:       body.UserID,
			Role:         body.Role,
			Content:      body.Content,
			Tag:          body.Tag,
			Reference:    body.Reference,
			UpdateFields: body.UpdateFields,
			WithHistory:  body.WithHistory,
			ChangeReason: body.ChangeReason,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, segmentPayload(saved))
		return
	}

	if len(parts) == 4 && parts[3] == "votes" {
		var body struct {
			UserID int64  `json:"userId"`
			Role   string `json:"role"`
			Value  int    `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		switch r.Method {
		case http.MethodPost:
			vote, err := s.service.CastVote(r.Context(), segmentID, body.UserID, body.Role, body.Value, false)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, votePayload(vote))
		case http.MethodDelete:
			vote, err := s.service.CastVote(r.Context(), segmentID, body.UserID, body.Role, 0, true)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, votePayload(vote))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "lock" {
		var body struct {
			UserID int64 `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var lockErr error
		switch r.Method {
		case http.MethodPost:
			lockErr = s.service.LockSegment(r.Context(), segmentID, body.UserID)
		case http.MethodDelete:
			lockErr = s.service.UnlockSegment(r.Context(), segmentID, body.UserID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if lockErr != nil {
			s.fail(w, lockErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		histories, err := s.service.SegmentHistory(r.Context(), segmentID)
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := make([]map[string]any, len(histories))
		for i, h := range histories {
			payload[i] = historyPayload(h)
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": payload})
		return
	}

	if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodGet {
		items, err := s.service.Comments().ForSegment(r.Context(), segmentID)
		if err != nil {
			s.fail(w, err)
			return
		}
		payload := make([]map[string]any, len(items))
		for i, c := range items {
			payload[i] = commentPayload(c)
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": payload})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, parts []string) {
	historyID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "history id must be an integer", nil)
		return
	}
	if len(parts) == 4 && parts[3] == "change-reason" && r.Method == http.MethodPut {
		var body struct {
			ChangeReason string `json:"changeReason"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.AmendChangeReason(r.Context(), historyID, body.ChangeReason); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, parts []string) {
	if parts[2] == "" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// POST /api/comments/{kind} creates; the kind is part of the path so
	// segment, developer and issue boards share one handler.
	if len(parts) == 3 && r.Method == http.MethodPost {
		kind := parts[2]
		var body struct {
			SegmentID *int64     `json:"segmentId"`
			UserID    int64      `json:"userId"`
			Content   string     `json:"content"`
			ToDelete  *time.Time `json:"toDelete"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.Comments().Create(r.Context(), store.Comment{
			Kind:      kind,
			SegmentID: body.SegmentID,
			AuthorID:  body.UserID,
			Content:   body.Content,
			ToDelete:  body.ToDelete,
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, commentPayload(created))
		return
	}

	commentID, err := parseID(parts[2])
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment id must be an integer", nil)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			c, err := s.service.Comments().Get(r.Context(), commentID)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, commentPayload(c))
		case http.MethodPut:
			var body struct {
				Content string `json:"content"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			c, err := s.service.Comments().Update(r.Context(), commentID, body.Content)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, commentPayload(c))
		case http.MethodDelete:
			if err := s.service.Comments().Delete(r.Context(), commentID); err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 4 && parts[3] == "deletion" && r.Method == http.MethodPut {
		var body struct {
			ToDelete *time.Time `json:"toDelete"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		c, err := s.service.Comments().MarkForDeletion(r.Context(), commentID, body.ToDelete)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commentPayload(c))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	payload := s.service.Search(search.Query{
		Text:           q,
		FilterType:     search.ResultType(strings.TrimSpace(r.URL.Query().Get("type"))),
		FilterWorkID:   strings.TrimSpace(r.URL.Query().Get("workId")),
		FilterLanguage: strings.TrimSpace(r.URL.Query().Get("language")),
		Limit:          limit,
		Offset:         offset,
	})
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func mapError(err error) (status int, code, message string, details any) {
	err = mapServiceError(err)
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":       u.ID,
		"username": u.Username,
		"isActive": u.IsActive,
		"isAi":     u.IsAI,
	}
}

func originalWorkPayload(w store.OriginalWork) map[string]any {
	return map[string]any{
		"id":       w.ID,
		"key":      w.Key,
		"title":    w.Title,
		"language": w.Language,
		"type":     w.Type,
		"licence":  w.Licence,
		"author":   w.Author,
	}
}

func translatedWorkPayload(w store.TranslatedWork) map[string]any {
	return map[string]any{
		"id":           w.ID,
		"originalId":   w.OriginalID,
		"language":     w.Language,
		"lastActivity": w.LastActivity,
	}
}

func segmentPayload(seg store.TranslatedSegment) map[string]any {
	return map[string]any{
		"id":              seg.ID,
		"workId":          seg.WorkID,
		"position":        seg.Position,
		"page":            seg.Page,
		"tag":             seg.Tag,
		"classes":         seg.Classes,
		"reference":       seg.Reference,
		"content":         seg.Content,
		"chapterId":       seg.ChapterID,
		"progress":        seg.Progress,
		"lockedBy":        seg.LockedBy,
		"lastModified":    seg.LastModified,
		"translatorsVote": seg.TranslatorsVote,
		"reviewersVote":   seg.ReviewersVote,
		"trusteesVote":    seg.TrusteesVote,
	}
}

func segmentViewPayload(v SegmentView) map[string]any {
	payload := segmentPayload(v.TranslatedSegment)
	payload["originalContent"] = v.OriginalContent
	payload["pretranslated"] = v.Pretranslated
	return payload
}

func historyPayload(h store.HistoricalSegment) map[string]any {
	return map[string]any{
		"id":           h.ID,
		"segmentId":    h.SegmentID,
		"relativeId":   h.RelativeID,
		"date":         h.HistoryDate,
		"userId":       h.HistoryUserID,
		"type":         h.HistoryType,
		"changeReason": h.HistoryChangeReason,
		"content":      h.Content,
		"tag":          h.Tag,
		"reference":    h.Reference,
		"page":         h.Page,
		"progress":     h.Progress,
	}
}

func votePayload(v store.Vote) map[string]any {
	return map[string]any{
		"id":        v.ID,
		"segmentId": v.SegmentID,
		"userId":    v.UserID,
		"role":      v.Role,
		"value":     v.Value,
		"revoke":    v.Revoke,
		"bound":     v.Bound,
		"date":      v.Date,
	}
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"kind":      c.Kind,
		"segmentId": c.SegmentID,
		"userId":    c.AuthorID,
		"content":   c.Content,
		"toDelete":  c.ToDelete,
		"createdAt": c.CreatedAt,
		"updatedAt": c.UpdatedAt,
	}
}

func statisticsPayload(st store.WorkStatistics) map[string]any {
	return map[string]any{
		"workId":             st.WorkID,
		"segments":           st.Segments,
		"translatedCount":    st.TranslatedCount,
		"reviewedCount":      st.ReviewedCount,
		"authorizedCount":    st.AuthorizedCount,
		"pretranslatedCount": st.PretranslatedCount,
		"translatedPercent":  st.TranslatedPercent,
		"reviewedPercent":    st.ReviewedPercent,
		"authorizedPercent":  st.AuthorizedPercent,
		"contributors":       st.Contributors,
		"lastActivity":       st.LastActivity,
	}
}
