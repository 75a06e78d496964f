package dav

import (
	"context"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskcal-dev/taskcal/internal/auth"
	"github.com/taskcal-dev/taskcal/internal/service"
	"github.com/taskcal-dev/taskcal/internal/store"
)

var testUser = &store.User{ID: 1, Username: "alice", Email: "alice@example.com"}

func storedTask(uid, title string, start time.Time) store.Task {
	task := store.Task{
		CalendarID: 1,
		UID:        uid,
		Title:      title,
		Start:      start,
		End:        start.Add(time.Hour),
		Timezone:   "UTC",
	}
	task.ETag = task.ComputeETag()
	return task
}

func newTestHandler(tasks *fakeTaskRepo) *Handler {
	st := &store.Store{
		Calendars: &fakeCalendarRepo{calendars: map[string]*store.Calendar{
			"personal": {ID: 1, UserID: 1, Slug: "personal", Name: "Personal"},
		}},
		Tasks:     tasks,
		Reminders: fakeReminderRepo{},
	}
	return NewHandler(st, service.NewTaskService(tasks, fakeReminderRepo{}))
}

func newRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "text/calendar")
	}
	return req.WithContext(auth.WithUser(context.Background(), testUser))
}

func eventBody(uid, summary, dtstart, dtend string) string {
	return strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//Test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DTSTART:" + dtstart,
		"DTEND:" + dtend,
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")
}

func TestOptionsAdvertisesCalDAV(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())
	rec := httptest.NewRecorder()
	h.Options(rec, newRequest("OPTIONS", "/dav/alice/personal", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if dav := rec.Header().Get("DAV"); dav != "1, 2, calendar-access" {
		t.Errorf("unexpected DAV header %q", dav)
	}
	allow := rec.Header().Get("Allow")
	for _, method := range []string{"OPTIONS", "GET", "PUT", "DELETE", "PROPFIND"} {
		if !strings.Contains(allow, method) {
			t.Errorf("Allow header %q missing %s", allow, method)
		}
	}
}

func TestGetResource(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	task := storedTask("ev-1", "Dentist", start)
	h := newTestHandler(newFakeTaskRepo(task))

	rec := httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/dav/alice/personal/ev-1.ics", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("unexpected content type %q", ct)
	}
	if etag := rec.Header().Get("ETag"); etag != `"`+task.ETag+`"` {
		t.Errorf("expected quoted etag, got %q", etag)
	}
	if !strings.Contains(rec.Body.String(), "UID:ev-1") {
		t.Errorf("body does not contain the event: %s", rec.Body.String())
	}
}

func TestGetMissingResourceIs404(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())
	rec := httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/dav/alice/personal/nope.ics", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCrossUserPathIs403BeforeExistence(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())

	// Neither the user nor the calendar in the path exist; the principal
	// check must still answer first.
	for _, method := range []string{"GET", "PUT", "DELETE", "PROPFIND"} {
		rec := httptest.NewRecorder()
		req := newRequest(method, "/dav/bob/secret/ev-1.ics", "")
		switch method {
		case "GET":
			h.Get(rec, req)
		case "PUT":
			h.Put(rec, req)
		case "DELETE":
			h.Delete(rec, req)
		case "PROPFIND":
			h.Propfind(rec, req)
		}
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", method, rec.Code)
		}
	}
}

func TestPrincipalMatchesEmail(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	h := newTestHandler(newFakeTaskRepo(storedTask("ev-1", "Dentist", start)))

	rec := httptest.NewRecorder()
	h.Get(rec, newRequest("GET", "/dav/alice@example.com/personal/ev-1.ics", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for email principal, got %d", rec.Code)
	}
}

func TestPutCreate(t *testing.T) {
	repo := newFakeTaskRepo()
	h := newTestHandler(repo)

	body := eventBody("new-ev", "Standup", "20251006T090000Z", "20251006T091500Z")
	rec := httptest.NewRecorder()
	h.Put(rec, newRequest("PUT", "/dav/alice/personal/new-ev.ics", body))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected an ETag on create")
	}
	task, ok := repo.tasks["new-ev"]
	if !ok {
		t.Fatal("task was not stored")
	}
	if task.Title != "Standup" {
		t.Errorf("unexpected title %q", task.Title)
	}
}

func TestPutUpdateWithoutIfMatch(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	repo := newFakeTaskRepo(storedTask("ev-1", "Old", start))
	h := newTestHandler(repo)

	body := eventBody("ev-1", "New", "20251006T090000Z", "20251006T100000Z")
	rec := httptest.NewRecorder()
	h.Put(rec, newRequest("PUT", "/dav/alice/personal/ev-1.ics", body))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.tasks["ev-1"].Title != "New" {
		t.Errorf("task was not updated: %q", repo.tasks["ev-1"].Title)
	}
}

func TestPutStaleIfMatchIs412AndLeavesResourceUnchanged(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	original := storedTask("ev-1", "Original", start)
	repo := newFakeTaskRepo(original)
	h := newTestHandler(repo)

	body := eventBody("ev-1", "Clobbered", "20251006T090000Z", "20251006T100000Z")
	req := newRequest("PUT", "/dav/alice/personal/ev-1.ics", body)
	req.Header.Set("If-Match", `"stale-etag"`)
	rec := httptest.NewRecorder()
	h.Put(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rec.Code)
	}
	stored := repo.tasks["ev-1"]
	if stored.Title != "Original" || stored.ETag != original.ETag {
		t.Errorf("resource changed despite stale If-Match: %+v", stored)
	}
}

func TestPutCurrentIfMatchSucceeds(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	original := storedTask("ev-1", "Original", start)
	repo := newFakeTaskRepo(original)
	h := newTestHandler(repo)

	body := eventBody("ev-1", "Edited", "20251006T090000Z", "20251006T100000Z")
	req := newRequest("PUT", "/dav/alice/personal/ev-1.ics", body)
	req.Header.Set("If-Match", `"`+original.ETag+`"`)
	rec := httptest.NewRecorder()
	h.Put(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.tasks["ev-1"].ETag == original.ETag {
		t.Error("etag did not change after a content edit")
	}
}

func TestPutMalformedBodyIs400(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())

	rec := httptest.NewRecorder()
	h.Put(rec, newRequest("PUT", "/dav/alice/personal/ev-1.ics", "not a calendar"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPutCollectionPathIs400(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())

	body := eventBody("ev-1", "X", "20251006T090000Z", "20251006T100000Z")
	rec := httptest.NewRecorder()
	h.Put(rec, newRequest("PUT", "/dav/alice/personal", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	repo := newFakeTaskRepo(storedTask("ev-1", "Doomed", start))
	h := newTestHandler(repo)

	rec := httptest.NewRecorder()
	h.Delete(rec, newRequest("DELETE", "/dav/alice/personal/ev-1.ics", ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, ok := repo.tasks["ev-1"]; ok {
		t.Error("task still present after delete")
	}

	// Deleting again is still a success.
	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest("DELETE", "/dav/alice/personal/ev-1.ics", ""))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on repeat delete, got %d", rec.Code)
	}
}

func TestPropfindDepthZero(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	h := newTestHandler(newFakeTaskRepo(storedTask("ev-1", "Dentist", start)))

	req := newRequest("PROPFIND", "/dav/alice/personal", "")
	req.Header.Set("Depth", "0")
	rec := httptest.NewRecorder()
	h.Propfind(rec, req)

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", rec.Code, rec.Body.String())
	}

	var ms parsedMultistatus
	if err := xml.Unmarshal(rec.Body.Bytes(), &ms); err != nil {
		t.Fatalf("response is not valid XML: %v", err)
	}
	if len(ms.Responses) != 1 {
		t.Fatalf("expected 1 response at depth 0, got %d", len(ms.Responses))
	}
	if ms.Responses[0].Href != "/dav/alice/personal/" {
		t.Errorf("unexpected collection href %q", ms.Responses[0].Href)
	}
}

func TestPropfindDepthOneListsMembers(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	taskA := storedTask("ev-a", "A", start)
	taskB := storedTask("ev-b", "B", start.Add(time.Hour))
	h := newTestHandler(newFakeTaskRepo(taskA, taskB))

	req := newRequest("PROPFIND", "/dav/alice/personal", "")
	req.Header.Set("Depth", "1")
	rec := httptest.NewRecorder()
	h.Propfind(rec, req)

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}

	var ms parsedMultistatus
	if err := xml.Unmarshal(rec.Body.Bytes(), &ms); err != nil {
		t.Fatalf("response is not valid XML: %v", err)
	}
	if len(ms.Responses) != 3 {
		t.Fatalf("expected collection + 2 members, got %d responses", len(ms.Responses))
	}

	body := rec.Body.String()
	for _, task := range []store.Task{taskA, taskB} {
		if !strings.Contains(body, task.UID+".ics") {
			t.Errorf("member %s missing from multistatus", task.UID)
		}
		if !strings.Contains(body, task.ETag) {
			t.Errorf("etag for %s missing from multistatus", task.UID)
		}
	}
}

func TestPropfindResource(t *testing.T) {
	start := time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)
	task := storedTask("ev-1", "Dentist", start)
	h := newTestHandler(newFakeTaskRepo(task))

	req := newRequest("PROPFIND", "/dav/alice/personal/ev-1.ics", "")
	req.Header.Set("Depth", "0")
	rec := httptest.NewRecorder()
	h.Propfind(rec, req)

	if rec.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), task.ETag) {
		t.Error("resource propfind missing etag")
	}
}

func TestPropfindMissingCalendarIs404(t *testing.T) {
	h := newTestHandler(newFakeTaskRepo())

	rec := httptest.NewRecorder()
	h.Propfind(rec, newRequest("PROPFIND", "/dav/alice/unknown", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// parsedMultistatus reads back the namespaced response for assertions.
type parsedMultistatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Href string `xml:"href"`
	} `xml:"response"`
}
