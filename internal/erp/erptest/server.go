// Package erptest runs an in-memory stand-in for the Frappe/ERPNext REST API.
package erptest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"listingflow/internal/erp"
)

const (
	APIKey    = "test-key"
	APISecret = "test-secret"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	docs     map[string][]erp.Doc
	seq      map[string]int
	failures map[string]failure
	requests []string
}

type failure struct {
	status  int
	message string
}

func NewServer() *Server {
	s := &Server{
		docs:     map[string][]erp.Doc{},
		seq:      map[string]int{},
		failures: map[string]failure{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Client returns an erp.Client authenticated against the fake.
func (s *Server) Client() *erp.Client {
	return erp.NewClient(erp.Options{BaseURL: s.URL, APIKey: APIKey, APISecret: APISecret})
}

// FailCreate makes every POST for doctype answer with status and a Frappe
// style validation message.
func (s *Server) FailCreate(doctype string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[doctype] = failure{status: status, message: message}
}

func (s *Server) Seed(doctype string, doc erp.Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doctype] = append(s.docs[doctype], doc)
}

func (s *Server) Count(doctype string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[doctype])
}

func (s *Server) Docs(doctype string) []erp.Doc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]erp.Doc(nil), s.docs[doctype]...)
}

// Requests lists "METHOD doctype" for each request received, in order.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != fmt.Sprintf("token %s:%s", APIKey, APISecret) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"exc_type": "AuthenticationError"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/api/resource/"), "/")
	if len(parts) == 0 || parts[0] == "" || !strings.HasPrefix(r.URL.EscapedPath(), "/api/resource/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"exc_type": "DoesNotExistError"})
		return
	}
	doctype, _ := url.PathUnescape(parts[0])
	name := ""
	if len(parts) > 1 {
		name, _ = url.PathUnescape(parts[1])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+doctype)

	switch {
	case r.Method == http.MethodGet && name == "":
		s.list(w, r, doctype)
	case r.Method == http.MethodGet:
		if d := s.find(doctype, name); d != nil {
			writeJSON(w, http.StatusOK, map[string]any{"data": d})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]any{"exc_type": "DoesNotExistError", "exception": doctype + " " + name + " not found"})
	case r.Method == http.MethodPost && name == "":
		s.create(w, r, doctype)
	case r.Method == http.MethodPut && name != "":
		s.update(w, r, doctype, name)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"exc_type": "PermissionError"})
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, doctype string) {
	var filters [][]any
	if f := r.URL.Query().Get("filters"); f != "" {
		if err := json.Unmarshal([]byte(f), &filters); err != nil {
			writeJSON(w, http.StatusExpectationFailed, map[string]any{"exception": "invalid filters"})
			return
		}
	}

	out := []erp.Doc{}
	for _, d := range s.docs[doctype] {
		if matches(d, filters) {
			out = append(out, erp.Doc{"name": d.Name()})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, doctype string) {
	if f, ok := s.failures[doctype]; ok {
		msg, _ := json.Marshal(map[string]string{"message": f.message})
		list, _ := json.Marshal([]string{string(msg)})
		writeJSON(w, f.status, map[string]any{
			"exc_type":         "ValidationError",
			"_server_messages": string(list),
		})
		return
	}

	var doc erp.Doc
	raw, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"exception": "invalid json"})
		return
	}

	s.seq[doctype]++
	switch doctype {
	case erp.Item:
		doc["name"] = doc["item_code"]
	case erp.Customer:
		doc["name"] = fmt.Sprintf("%v", doc["customer_name"])
		if s.find(doctype, doc.Name()) != nil {
			doc["name"] = fmt.Sprintf("%v-%d", doc["customer_name"], s.seq[doctype])
		}
	default:
		doc["name"] = fmt.Sprintf("%s-%05d", prefix(doctype), s.seq[doctype])
	}
	doc["docstatus"] = 0

	s.docs[doctype] = append(s.docs[doctype], doc)
	writeJSON(w, http.StatusOK, map[string]any{"data": doc})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, doctype, name string) {
	d := s.find(doctype, name)
	if d == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"exc_type": "DoesNotExistError"})
		return
	}
	var patch erp.Doc
	raw, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(raw, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"exception": "invalid json"})
		return
	}
	for k, v := range patch {
		if k == "name" {
			continue
		}
		d[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": d})
}

func (s *Server) find(doctype, name string) erp.Doc {
	for _, d := range s.docs[doctype] {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

func matches(d erp.Doc, filters [][]any) bool {
	for _, f := range filters {
		if len(f) != 3 {
			return false
		}
		field, _ := f[0].(string)
		op, _ := f[1].(string)
		if op != "=" {
			return false
		}
		if fmt.Sprint(d[field]) != fmt.Sprint(f[2]) {
			return false
		}
	}
	return true
}

func prefix(doctype string) string {
	switch doctype {
	case erp.SalesOrder:
		return "SAL-ORD"
	case erp.SalesInvoice:
		return "ACC-SINV"
	case erp.DeliveryNote:
		return "MAT-DN"
	case erp.Address:
		return "ADDR"
	}
	return strings.ToUpper(strings.ReplaceAll(doctype, " ", "-"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
