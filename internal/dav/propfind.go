package dav

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/taskcal-dev/taskcal/internal/fault"
	"github.com/taskcal-dev/taskcal/internal/store"
)

// Propfind answers collection and resource property queries. Depth 0
// describes the addressed resource alone; Depth 1 on a collection also
// lists each task resource with its etag.
func (h *Handler) Propfind(w http.ResponseWriter, r *http.Request) {
	rp, cal, err := h.resolve(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	depth := strings.TrimSpace(r.Header.Get("Depth"))
	if depth == "" {
		depth = "1"
	}
	if depth != "0" && depth != "1" {
		writeError(w, r, fault.Validationf("unsupported depth %q", depth))
		return
	}

	// The request body selects properties, but every property this server
	// knows is cheap, so a malformed or absent body degrades to allprop.
	if r.ContentLength > 0 {
		if _, err := io.ReadAll(io.LimitReader(r.Body, maxDAVBodyBytes)); err != nil {
			writeError(w, r, fault.Validation("failed to read request body"))
			return
		}
	}

	var responses []response
	if rp.UID != "" {
		task, err := h.store.Tasks.GetByUID(r.Context(), cal.ID, rp.UID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if task == nil {
			writeError(w, r, fault.NotFound("task not found"))
			return
		}
		responses = []response{taskResponse(collectionHref(rp), *task)}
	} else {
		responses = []response{collectionResponse(collectionHref(rp), cal)}
		if depth == "1" {
			tasks, err := h.store.Tasks.ListForCalendar(r.Context(), cal.ID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			for _, task := range tasks {
				responses = append(responses, taskResponse(collectionHref(rp), task))
			}
		}
	}

	payload := multistatus{
		XmlnsD:   "DAV:",
		XmlnsC:   "urn:ietf:params:xml:ns:caldav",
		Response: responses,
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	_ = xml.NewEncoder(&buf).Encode(payload)
	_, _ = w.Write(buf.Bytes())
}

func collectionHref(rp resourcePath) string {
	return "/dav/" + rp.Principal + "/" + rp.Slug + "/"
}

func collectionResponse(href string, cal *store.Calendar) response {
	return response{
		Href: href,
		Propstat: []propstat{{
			Prop: prop{
				DisplayName: cal.Name,
				ResourceType: resourceType{
					Collection: &struct{}{},
					Calendar:   &struct{}{},
				},
				SupportedComponentSet: &supportedComponentSet{
					Comps: []componentName{{Name: "VEVENT"}, {Name: "VTODO"}},
				},
			},
			Status: "HTTP/1.1 200 OK",
		}},
	}
}

func taskResponse(collectionHref string, task store.Task) response {
	return response{
		Href: path.Join(collectionHref, task.UID+".ics"),
		Propstat: []propstat{{
			Prop: prop{
				GetETag:        quoteETag(task.ETag),
				GetContentType: "text/calendar; charset=utf-8",
			},
			Status: "HTTP/1.1 200 OK",
		}},
	}
}

type multistatus struct {
	XMLName  xml.Name   `xml:"d:multistatus"`
	XmlnsD   string     `xml:"xmlns:d,attr"`
	XmlnsC   string     `xml:"xmlns:cal,attr"`
	Response []response `xml:"d:response"`
}

type response struct {
	Href     string     `xml:"d:href"`
	Propstat []propstat `xml:"d:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"d:prop"`
	Status string `xml:"d:status"`
}

type prop struct {
	DisplayName           string                 `xml:"d:displayname,omitempty"`
	ResourceType          resourceType           `xml:"d:resourcetype"`
	GetETag               string                 `xml:"d:getetag,omitempty"`
	GetContentType        string                 `xml:"d:getcontenttype,omitempty"`
	SupportedComponentSet *supportedComponentSet `xml:"cal:supported-calendar-component-set,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"d:collection,omitempty"`
	Calendar   *struct{} `xml:"cal:calendar,omitempty"`
}

type supportedComponentSet struct {
	Comps []componentName `xml:"cal:comp"`
}

type componentName struct {
	Name string `xml:"name,attr"`
}
