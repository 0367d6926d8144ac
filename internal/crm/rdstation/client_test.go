package rdstation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/robbu/chatbot-core/server/internal/agent/model"
)

func testLead() *model.LeadSession {
	return &model.LeadSession{
		Name:     "Ana",
		Email:    "ana@empresa.com.br",
		Role:     "Gerente",
		Phone:    "5511988887777",
		Interest: "Carteiro Digital",
		TeamSize: "12",
	}
}

func TestFindContactByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contacts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "tok" {
			t.Errorf("token = %q", got)
		}
		if got := r.URL.Query().Get("email"); got != "ana@empresa.com.br" {
			t.Errorf("email = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"contacts": []map[string]string{{"id": "c-123"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	id, err := c.FindContactByEmail(context.Background(), "ana@empresa.com.br")
	if err != nil {
		t.Fatalf("FindContactByEmail: %v", err)
	}
	if id != "c-123" {
		t.Fatalf("id = %q, want c-123", id)
	}
}

func TestFindContactByEmailNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"contacts": []any{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	id, err := c.FindContactByEmail(context.Background(), "sumida@empresa.com.br")
	if err != nil {
		t.Fatalf("FindContactByEmail: %v", err)
	}
	if id != "" {
		t.Fatalf("id = %q, want empty", id)
	}
}

func TestCreateContactResolvesCustomFields(t *testing.T) {
	var createBody map[string]contactPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/custom_fields" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{"custom_fields": []map[string]string{
				{"key": "cf_interesse", "label": "Produtos de interesse"},
			}})
		case r.URL.Path == "/custom_fields" && r.Method == http.MethodPost:
			// the account is missing the team-size field; the client creates it
			json.NewEncoder(w).Encode(map[string]any{"custom_field": map[string]string{
				"key": "cf_qtd", "label": "qtd de funcionarios",
			}})
		case r.URL.Path == "/contacts" && r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&createBody); err != nil {
				t.Errorf("decode create body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "novo-1"})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	id, err := c.CreateContact(context.Background(), testLead())
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if id != "novo-1" {
		t.Fatalf("id = %q", id)
	}

	contact := createBody["contact"]
	if contact.Name != "Ana" || contact.Title != "Gerente" {
		t.Fatalf("unexpected contact payload: %+v", contact)
	}
	if len(contact.Emails) != 1 || contact.Emails[0].Email != "ana@empresa.com.br" {
		t.Fatalf("unexpected emails: %+v", contact.Emails)
	}
	if got := contact.CustomFields["cf_interesse"]; got != "Carteiro Digital" {
		t.Fatalf("interest field = %v", got)
	}
	if got := contact.CustomFields["cf_qtd"]; got != "12" {
		t.Fatalf("team size field = %v", got)
	}
}

func TestUpsertUpdatesExistingContact(t *testing.T) {
	var updated bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/custom_fields":
			json.NewEncoder(w).Encode(map[string]any{"custom_fields": []map[string]string{
				{"key": "cf_interesse", "label": "Produtos de interesse"},
				{"key": "cf_qtd", "label": "qtd de funcionarios"},
			}})
		case r.URL.Path == "/contacts" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"contacts": []map[string]string{{"id": "c-9"}},
			})
		case r.URL.Path == "/contacts/c-9" && r.Method == http.MethodPut:
			updated = true
			json.NewEncoder(w).Encode(map[string]string{"id": "c-9"})
		default:
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	id, err := c.Upsert(context.Background(), testLead())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id != "c-9" || !updated {
		t.Fatalf("id = %q, updated = %v", id, updated)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-ruim", srv.Client())
	if _, err := c.FindContactByEmail(context.Background(), "x@y.com.br"); err == nil {
		t.Fatal("expected error on 401 response")
	}
}
