package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqsqueue "courier/internal/queue/sqs"
	"courier/internal/service"
	"courier/internal/store"
)

type fakeAPIStore struct {
	tenants      map[string]store.Tenant
	campaigns    map[string]store.Campaign
	suppressions map[string]store.Suppression // by id
	logs         map[string]store.EmailLog
}

func newFakeAPIStore() *fakeAPIStore {
	return &fakeAPIStore{
		tenants:      map[string]store.Tenant{},
		campaigns:    map[string]store.Campaign{},
		suppressions: map[string]store.Suppression{},
		logs:         map[string]store.EmailLog{},
	}
}

func (f *fakeAPIStore) InsertTenant(ctx context.Context, t store.Tenant) error {
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeAPIStore) GetTenant(ctx context.Context, id string) (store.Tenant, bool, error) {
	t, ok := f.tenants[id]
	return t, ok, nil
}

func (f *fakeAPIStore) ListTenants(ctx context.Context) ([]store.Tenant, error) {
	var out []store.Tenant
	for _, t := range f.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeAPIStore) InsertCampaign(ctx context.Context, c store.Campaign) error {
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeAPIStore) GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error) {
	c, ok := f.campaigns[id]
	return c, ok, nil
}

func (f *fakeAPIStore) ListCampaigns(ctx context.Context, tenantID string) ([]store.Campaign, error) {
	var out []store.Campaign
	for _, c := range f.campaigns {
		if tenantID == "" || c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeAPIStore) InsertSubscriber(ctx context.Context, sub store.Subscriber) error { return nil }

func (f *fakeAPIStore) ListSubscribers(ctx context.Context, tenantID string) ([]store.Subscriber, error) {
	return nil, nil
}

func (f *fakeAPIStore) InsertSuppression(ctx context.Context, in store.SuppressionInsert) (bool, error) {
	for _, s := range f.suppressions {
		if s.TenantID == in.TenantID && s.Email == in.Email {
			return false, nil
		}
	}
	f.suppressions[in.ID] = store.Suppression{ID: in.ID, TenantID: in.TenantID, Email: in.Email, Reason: in.Reason}
	return true, nil
}

func (f *fakeAPIStore) ListSuppressions(ctx context.Context, tenantID string) ([]store.Suppression, error) {
	var out []store.Suppression
	for _, s := range f.suppressions {
		if tenantID == "" || s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAPIStore) DeleteSuppression(ctx context.Context, id string) (bool, error) {
	if _, ok := f.suppressions[id]; !ok {
		return false, nil
	}
	delete(f.suppressions, id)
	return true, nil
}

func (f *fakeAPIStore) GetEmailLog(ctx context.Context, id string) (store.EmailLog, bool, error) {
	l, ok := f.logs[id]
	return l, ok, nil
}

func (f *fakeAPIStore) ListEmailLogs(ctx context.Context, tenantID, campaignID string) ([]store.EmailLog, error) {
	var out []store.EmailLog
	for _, l := range f.logs {
		out = append(out, l)
	}
	return out, nil
}

// sendStoreAdapter backs the send service with the same fake.
type sendStoreAdapter struct {
	*fakeAPIStore
	queued []store.EmailLogInsert
}

func (s *sendStoreAdapter) InsertEmailLog(ctx context.Context, in store.EmailLogInsert) error {
	s.queued = append(s.queued, in)
	s.logs[in.ID] = store.EmailLog{ID: in.ID, TenantID: in.TenantID, RecipientEmail: in.RecipientEmail, Status: in.Status}
	return nil
}

func (s *sendStoreAdapter) MarkEmailLogState(ctx context.Context, in store.EmailLogStateUpdate) error {
	l := s.logs[in.ID]
	l.Status = in.Status
	s.logs[in.ID] = l
	return nil
}

func (s *sendStoreAdapter) SetEmailLogJobID(ctx context.Context, id, jobID string, now time.Time) error {
	return nil
}

func (s *sendStoreAdapter) IsSuppressed(ctx context.Context, tenantID, email string) (bool, error) {
	for _, sup := range s.suppressions {
		if sup.TenantID == tenantID && sup.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *sendStoreAdapter) MarkCampaignStatus(ctx context.Context, id, status string) error {
	c := s.campaigns[id]
	c.Status = status
	s.campaigns[id] = c
	return nil
}

func (s *sendStoreAdapter) ActiveRecipients(ctx context.Context, tenantID string) ([]store.Subscriber, error) {
	return nil, nil
}

type stubQueue struct{ jobs []sqsqueue.EmailJob }

func (q *stubQueue) EnqueueEmail(ctx context.Context, job sqsqueue.EmailJob) (string, error) {
	q.jobs = append(q.jobs, job)
	return "sqs-1", nil
}

func newTestAPI() (*API, *sendStoreAdapter, *stubQueue) {
	f := &sendStoreAdapter{fakeAPIStore: newFakeAPIStore()}
	q := &stubQueue{}
	return &API{
		Svc:   &service.SendService{Store: f, Queue: q},
		Store: f.fakeAPIStore,
	}, f, q
}

func serve(api *API, method, path, body string) *httptest.ResponseRecorder {
	srv := New()
	api.Register(srv.Mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Mux.ServeHTTP(rr, req)
	return rr
}

func TestCreateTenant(t *testing.T) {
	api, _, _ := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/tenants", `{"name":"Acme","contactEmail":"Ops@Acme.io"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var tenant store.Tenant
	if err := json.Unmarshal(rr.Body.Bytes(), &tenant); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(tenant.ID, "tnt_") {
		t.Fatalf("id = %q", tenant.ID)
	}
	if tenant.ContactEmail != "ops@acme.io" {
		t.Fatalf("contact email not normalized: %q", tenant.ContactEmail)
	}
}

func TestCreateTenantRejectsMissingFields(t *testing.T) {
	api, _, _ := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/tenants", `{"name":"Acme"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGetTenantNotFound(t *testing.T) {
	api, _, _ := newTestAPI()
	rr := serve(api, http.MethodGet, "/v1/tenants/tnt_missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCreateCampaignRequiresKnownTenant(t *testing.T) {
	api, f, _ := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/campaigns", `{"tenantId":"tnt_1","name":"n","subject":"s","body":"b"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	f.tenants["tnt_1"] = store.Tenant{ID: "tnt_1", Name: "Acme"}
	rr = serve(api, http.MethodPost, "/v1/campaigns", `{"tenantId":"tnt_1","name":"n","subject":"s","body":"b"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var c store.Campaign
	if err := json.Unmarshal(rr.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Status != "draft" {
		t.Fatalf("status = %q", c.Status)
	}
}

func TestSendCampaignNotFound(t *testing.T) {
	api, _, _ := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/campaigns/cmp_missing/send", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestManualSuppressionIsIdempotent(t *testing.T) {
	api, _, _ := newTestAPI()
	body := `{"tenantId":"tnt_1","email":"A@Example.com"}`

	rr := serve(api, http.MethodPost, "/v1/suppressions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first insert status = %d", rr.Code)
	}
	rr = serve(api, http.MethodPost, "/v1/suppressions", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("second insert status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["created"] != false {
		t.Fatalf("created = %v", resp["created"])
	}
	if resp["email"] != "a@example.com" {
		t.Fatalf("email not normalized: %v", resp["email"])
	}
}

func TestDeleteSuppression(t *testing.T) {
	api, f, _ := newTestAPI()
	f.suppressions["sup_1"] = store.Suppression{ID: "sup_1", TenantID: "tnt_1", Email: "a@example.com"}

	rr := serve(api, http.MethodDelete, "/v1/suppressions/sup_1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
	rr = serve(api, http.MethodDelete, "/v1/suppressions/sup_1", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestSendEmailAccepted(t *testing.T) {
	api, f, q := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/send-test", `{"tenantId":"tnt_1","recipient":"a@example.com","subject":"hi","body":"hello"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if len(q.jobs) != 1 {
		t.Fatalf("jobs = %d", len(q.jobs))
	}
	if len(f.queued) != 1 || f.queued[0].Status != "queued" {
		t.Fatalf("log insert = %+v", f.queued)
	}
}

func TestSendEmailValidation(t *testing.T) {
	api, _, _ := newTestAPI()
	rr := serve(api, http.MethodPost, "/v1/send-test", `{"recipient":"not-an-email","subject":"hi","body":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGetEmailLog(t *testing.T) {
	api, f, _ := newTestAPI()
	f.logs["log_1"] = store.EmailLog{ID: "log_1", RecipientEmail: "a@example.com", Status: "delivered"}

	rr := serve(api, http.MethodGet, "/v1/email-logs/log_1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var l store.EmailLog
	if err := json.Unmarshal(rr.Body.Bytes(), &l); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.Status != "delivered" {
		t.Fatalf("status = %q", l.Status)
	}

	rr = serve(api, http.MethodGet, "/v1/email-logs/log_missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
