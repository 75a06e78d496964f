// Package api serves the JSON API used by first-party clients: occurrence
// window queries, task CRUD, single-occurrence overrides, and bulk
// import/export.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskcal-dev/taskcal/internal/auth"
	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/ics"
	"github.com/taskcal-dev/taskcal/internal/importer"
	"github.com/taskcal-dev/taskcal/internal/recurrence"
	"github.com/taskcal-dev/taskcal/internal/service"
	"github.com/taskcal-dev/taskcal/internal/store"
)

const maxImportBodyBytes int64 = 20 * 1024 * 1024

// Handler serves the JSON API.
type Handler struct {
	store    *store.Store
	tasks    *service.TaskService
	importer *importer.Importer
}

func NewHandler(st *store.Store, tasks *service.TaskService, imp *importer.Importer) *Handler {
	return &Handler{store: st, tasks: tasks, importer: imp}
}

// calendar resolves {calendarSlug} against the authenticated user.
func (h *Handler) calendar(r *http.Request) (*store.Calendar, error) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		return nil, fault.Forbidden("missing principal")
	}
	slug := chi.URLParam(r, "calendarSlug")
	cal, err := h.store.Calendars.GetBySlug(r.Context(), user.ID, slug)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, fault.NotFound("calendar not found")
	}
	return cal, nil
}

// ListCalendars returns the authenticated user's calendars.
func (h *Handler) ListCalendars(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, fault.Forbidden("missing principal"))
		return
	}
	cals, err := h.store.Calendars.ListByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]calendarView, 0, len(cals))
	for _, c := range cals {
		out = append(out, calendarView{Slug: c.Slug, Name: c.Name, Color: c.Color})
	}
	writeJSON(w, http.StatusOK, out)
}

// Occurrences expands the calendar into concrete occurrences inside the
// [start, end) query window.
func (h *Handler) Occurrences(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start, err := parseTimeParam(r, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseTimeParam(r, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}

	occs, err := h.tasks.Occurrences(r.Context(), cal.ID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]occurrenceView, 0, len(occs))
	for _, occ := range occs {
		out = append(out, newOccurrenceView(occ))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTask returns one task by UID.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := h.store.Tasks.GetByUID(r.Context(), cal.ID, chi.URLParam(r, "uid"))
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
	writeJSON(w, http.StatusOK, newTaskView(task, reminders))
}

// CreateTask stores a new task.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeTaskInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.tasks.Create(r.Context(), cal.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTaskView(created, in.Reminders))
}

// UpdateTask overwrites an existing task.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeTaskInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := h.tasks.Update(r.Context(), cal.ID, chi.URLParam(r, "uid"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(updated, in.Reminders))
}

// DeleteTask removes a task. Deleting a missing task succeeds.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.tasks.Delete(r.Context(), cal.ID, chi.URLParam(r, "uid")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// overrideRequest edits a single occurrence of a recurring task.
type overrideRequest struct {
	OccurrenceStart time.Time   `json:"occurrenceStart"`
	Task            taskPayload `json:"task"`
}

// OverrideOccurrence detaches one occurrence of a recurring task: the
// original slot becomes an exception and the edited data lands in a new
// standalone task.
func (h *Handler) OverrideOccurrence(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fault.Wrap(err, fault.KindValidation, "malformed JSON body"))
		return
	}
	if req.OccurrenceStart.IsZero() {
		writeError(w, r, fault.Validation("occurrenceStart is required"))
		return
	}

	detached, err := h.tasks.OverrideOccurrence(r.Context(), cal.ID, chi.URLParam(r, "uid"), req.OccurrenceStart, req.Task.toInput())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTaskView(detached, nil))
}

// Export streams the whole calendar as an .ics document.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := h.tasks.Export(r.Context(), cal)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+cal.Slug+`.ics"`)
	_, _ = w.Write(data)
}

// importSummary is the preview response.
type importSummary struct {
	New        int                 `json:"new"`
	Duplicates int                 `json:"duplicates"`
	Changed    int                 `json:"changed"`
	Errors     []importItemError   `json:"errors,omitempty"`
	Items      []importPreviewItem `json:"items"`
}

type importPreviewItem struct {
	UID            string    `json:"uid"`
	Title          string    `json:"title"`
	Start          time.Time `json:"start"`
	Status         string    `json:"status"`
	ContentChanged bool      `json:"contentChanged,omitempty"`
}

type importItemError struct {
	Index     int    `json:"index"`
	Component string `json:"component"`
	UID       string `json:"uid,omitempty"`
	Message   string `json:"message"`
}

// ImportPreview classifies an uploaded .ics against the calendar without
// writing anything.
func (h *Handler) ImportPreview(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	drafts, itemErrs, err := h.decodeImportBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	existing, err := h.store.Tasks.ListForCalendar(r.Context(), cal.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary := importer.Preview(drafts, existing)
	writeJSON(w, http.StatusOK, newImportSummary(summary, itemErrs))
}

// importResult is the apply response.
type importResult struct {
	Applied  int    `json:"applied"`
	Skipped  int    `json:"skipped"`
	Strategy string `json:"strategy"`
}

// ImportApply writes an uploaded .ics to the calendar under the strategy
// named by the "strategy" query parameter.
func (h *Handler) ImportApply(w http.ResponseWriter, r *http.Request) {
	cal, err := h.calendar(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	strategy, err := importer.ParseStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	drafts, _, err := h.decodeImportBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	applied, err := h.importer.Apply(r.Context(), cal.ID, drafts, strategy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.Calendars.Touch(r.Context(), cal.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResult{
		Applied:  applied,
		Skipped:  len(drafts) - applied,
		Strategy: string(strategy),
	})
}

func (h *Handler) decodeImportBody(r *http.Request) ([]ics.Draft, []ics.ItemError, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBodyBytes))
	if err != nil {
		return nil, nil, fault.Validation("failed to read request body")
	}
	return ics.Decode(body)
}

func newImportSummary(summary importer.Summary, itemErrs []ics.ItemError) importSummary {
	out := importSummary{
		New:        summary.New,
		Duplicates: summary.Duplicates,
		Changed:    summary.Changed,
		Items:      make([]importPreviewItem, 0, len(summary.Items)),
	}
	for _, item := range summary.Items {
		out.Items = append(out.Items, importPreviewItem{
			UID:            item.Draft.UID,
			Title:          item.Draft.Title,
			Start:          item.Draft.Start,
			Status:         string(item.Status),
			ContentChanged: item.ContentChanged,
		})
	}
	for _, ie := range itemErrs {
		out.Errors = append(out.Errors, importItemError{
			Index:     ie.Index,
			Component: ie.Component,
			UID:       ie.UID,
			Message:   ie.Err.Error(),
		})
	}
	return out
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, fault.Validationf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fault.Validationf("%s must be RFC3339, got %q", name, raw)
	}
	return t, nil
}

type calendarView struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type occurrenceView struct {
	TaskUID string    `json:"taskUid"`
	Title   string    `json:"title"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	AllDay  bool      `json:"allDay"`
	Color   string    `json:"color,omitempty"`
	Source  string    `json:"source"`
}

func newOccurrenceView(occ recurrence.Occurrence) occurrenceView {
	return occurrenceView{
		TaskUID: occ.Task.UID,
		Title:   occ.Task.Title,
		Start:   occ.Start,
		End:     occ.End,
		AllDay:  occ.Task.AllDay,
		Color:   occ.Task.Color,
		Source:  occ.Source.String(),
	}
}

// taskPayload carries writable task fields over JSON.
type taskPayload struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Timezone       string     `json:"timezone,omitempty"`
	AllDay         bool       `json:"allDay,omitempty"`
	Color          string     `json:"color,omitempty"`
	RecurrenceRule string     `json:"recurrenceRule,omitempty"`
	RecurrenceEnd  *time.Time `json:"recurrenceEnd,omitempty"`
	Reminders      []int      `json:"reminders,omitempty"`
}

func (p taskPayload) toInput() service.TaskInput {
	in := service.TaskInput{
		Title:          p.Title,
		Description:    p.Description,
		Location:       p.Location,
		Start:          p.Start,
		End:            p.End,
		Timezone:       p.Timezone,
		AllDay:         p.AllDay,
		Color:          p.Color,
		RecurrenceRule: p.RecurrenceRule,
		RecurrenceEnd:  p.RecurrenceEnd,
	}
	for _, minutes := range p.Reminders {
		in.Reminders = append(in.Reminders, store.Reminder{MinutesBefore: minutes})
	}
	return in
}

func decodeTaskInput(r *http.Request) (service.TaskInput, error) {
	var p taskPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return service.TaskInput{}, fault.Wrap(err, fault.KindValidation, "malformed JSON body")
	}
	return p.toInput(), nil
}

type taskView struct {
	UID            string     `json:"uid"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Location       string     `json:"location,omitempty"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Timezone       string     `json:"timezone"`
	AllDay         bool       `json:"allDay"`
	Color          string     `json:"color,omitempty"`
	RecurrenceRule string     `json:"recurrenceRule,omitempty"`
	RecurrenceEnd  *time.Time `json:"recurrenceEnd,omitempty"`
	ETag           string     `json:"etag"`
	Reminders      []int      `json:"reminders,omitempty"`
}

func newTaskView(task *store.Task, reminders []store.Reminder) taskView {
	view := taskView{
		UID:            task.UID,
		Title:          task.Title,
		Description:    task.Description,
		Location:       task.Location,
		Start:          task.Start,
		End:            task.End,
		Timezone:       task.Timezone,
		AllDay:         task.AllDay,
		Color:          task.Color,
		RecurrenceRule: task.RecurrenceRule,
		RecurrenceEnd:  task.RecurrenceEnd,
		ETag:           task.ETag,
	}
	for _, rem := range reminders {
		view.Reminders = append(view.Reminders, rem.MinutesBefore)
	}
	return view
}
