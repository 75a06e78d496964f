// Package dav implements the CalDAV resource server.
//
// Addressing: collection /dav/{user}/{calendarSlug}, resource
// /dav/{user}/{calendarSlug}/{taskUid}.ics. Every verb checks that the
// path's user segment names the authenticated principal before any
// existence lookup, so other users' resource names never leak.
package dav

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/taskcal-dev/taskcal/internal/auth"
	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/ics"
	"github.com/taskcal-dev/taskcal/internal/service"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// maxDAVBodyBytes bounds PUT and PROPFIND request bodies.
const maxDAVBodyBytes int64 = 10 * 1024 * 1024

// Handler serves the CalDAV verbs.
type Handler struct {
	store *store.Store
	tasks *service.TaskService
}

func NewHandler(st *store.Store, tasks *service.TaskService) *Handler {
	return &Handler{store: st, tasks: tasks}
}

// resourcePath is a parsed DAV URL. UID is empty for collection paths.
type resourcePath struct {
	Principal string
	Slug      string
	UID       string
}

// parsePath splits /dav/{user}/{slug}[/{uid}.ics]. The returned bool is
// false for paths this server does not address.
func parsePath(rawPath string) (resourcePath, bool) {
	cleaned := path.Clean(rawPath)
	if u, err := url.PathUnescape(cleaned); err == nil {
		cleaned = u
	}
	trimmed := strings.TrimPrefix(cleaned, "/dav")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return resourcePath{}, false
	}

	parts := strings.Split(trimmed, "/")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return resourcePath{}, false
		}
		return resourcePath{Principal: parts[0], Slug: parts[1]}, true
	case 3:
		uid := strings.TrimSuffix(parts[2], ".ics")
		if parts[0] == "" || parts[1] == "" || uid == "" {
			return resourcePath{}, false
		}
		return resourcePath{Principal: parts[0], Slug: parts[1], UID: uid}, true
	default:
		return resourcePath{}, false
	}
}

// principalMatches accepts the path's user segment by username or email.
func principalMatches(user *store.User, segment string) bool {
	return segment == user.Username || segment == user.Email
}

// resolve authorizes and resolves the request path. The ownership guard
// runs before the calendar lookup: a wrong principal gets 403 whether or
// not the target exists.
func (h *Handler) resolve(r *http.Request) (resourcePath, *store.Calendar, error) {
	rp, ok := parsePath(r.URL.Path)
	if !ok {
		return resourcePath{}, nil, fault.NotFound("unknown resource path")
	}
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return resourcePath{}, nil, fault.Forbidden("missing principal")
	}
	if !principalMatches(user, rp.Principal) {
		return resourcePath{}, nil, fault.Forbidden("path does not belong to the authenticated principal")
	}

	cal, err := h.store.Calendars.GetBySlug(r.Context(), user.ID, rp.Slug)
	if err != nil {
		return resourcePath{}, nil, err
	}
	if cal == nil {
		return resourcePath{}, nil, fault.NotFound("calendar not found")
	}
	return rp, cal, nil
}

func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("DAV", "1, 2, calendar-access")
	w.Header().Set("Allow", "OPTIONS, GET, PUT, DELETE, PROPFIND")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rp, cal, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if rp.UID == "" {
		// Collection GET returns the whole calendar as one .ics document.
		data, err := h.tasks.Export(r.Context(), cal)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		_, _ = w.Write(data)
		return
	}

	task, err := h.store.Tasks.GetByUID(r.Context(), cal.ID, rp.UID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if task == nil {
		writeError(w, r, fault.NotFound("task not found"))
		return
	}
	reminders, err := h.store.Reminders.ListForTask(r.Context(), task.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := ics.EncodeTask(*task, reminders)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("ETag", quoteETag(task.ETag))
	_, _ = w.Write(data)
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	rp, cal, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rp.UID == "" {
		writeError(w, r, fault.Validation("PUT requires a resource path"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDAVBodyBytes))
	if err != nil {
		writeError(w, r, fault.Validation("failed to read request body"))
		return
	}
	draft, err := decodeSingleEvent(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	in := service.TaskInput{
		UID:            rp.UID,
		Title:          draft.Title,
		Description:    draft.Description,
		Location:       draft.Location,
		Start:          draft.Start,
		End:            draft.End,
		AllDay:         draft.AllDay,
		Color:          draft.Color,
		RecurrenceRule: draft.RecurrenceRule,
	}

	existing, err := h.store.Tasks.GetByUID(r.Context(), cal.ID, rp.UID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if existing == nil {
		created, err := h.tasks.Create(r.Context(), cal.ID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("ETag", quoteETag(created.ETag))
		w.WriteHeader(http.StatusCreated)
		return
	}

	// Optimistic concurrency. An If-Match that does not name the current
	// version is rejected up front; either way the write itself is a single
	// compare-and-swap on the etag, so a concurrent update cannot go
	// unnoticed between our read and our write.
	expected := existing.ETag
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" {
		if ifMatch != existing.ETag {
			writeError(w, r, fault.Conflict("etag mismatch"))
			return
		}
		expected = ifMatch
	}

	if err := in.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	task := *existing
	task.Title = in.Title
	task.Description = in.Description
	task.Location = in.Location
	task.Start = in.Start.UTC()
	task.End = in.End.UTC()
	task.AllDay = in.AllDay
	task.Color = in.Color
	task.RecurrenceRule = in.RecurrenceRule
	task.ETag = task.ComputeETag()

	updated, err := h.store.Tasks.UpdateIfETag(r.Context(), task, expected)
	if errors.Is(err, store.ErrETagMismatch) {
		writeError(w, r, fault.Conflict("etag mismatch"))
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, fault.NotFound("task not found"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("ETag", quoteETag(updated.ETag))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rp, cal, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rp.UID == "" {
		writeError(w, r, fault.Validation("DELETE requires a resource path"))
		return
	}

	// Idempotent: a missing task is a successful delete from the caller's
	// perspective. Reminders cascade at the storage layer.
	if err := h.store.Tasks.DeleteByUID(r.Context(), cal.ID, rp.UID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeSingleEvent parses a PUT body that must contain exactly one event.
func decodeSingleEvent(body []byte) (ics.Draft, error) {
	drafts, itemErrs, err := ics.Decode(body)
	if err != nil {
		return ics.Draft{}, err
	}
	if len(itemErrs) > 0 {
		return ics.Draft{}, fault.Wrap(itemErrs[0], fault.KindValidation, "malformed calendar component")
	}
	if len(drafts) != 1 {
		return ics.Draft{}, fault.Validationf("expected exactly one event, got %d", len(drafts))
	}
	return drafts[0], nil
}

func quoteETag(etag string) string {
	return fmt.Sprintf("%q", etag)
}

// writeError maps faults to the DAV status contract: validation 400,
// not-found 404, etag conflict 412, cross-user 403. Anything unclassified
// is a 500 with the cause kept out of the response body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("dav request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
