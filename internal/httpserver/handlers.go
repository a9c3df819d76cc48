package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"courier/internal/domain"
	"courier/internal/service"
	"courier/internal/store"
	"courier/internal/util"
)

type Store interface {
	InsertTenant(ctx context.Context, t store.Tenant) error
	GetTenant(ctx context.Context, id string) (store.Tenant, bool, error)
	ListTenants(ctx context.Context) ([]store.Tenant, error)
	InsertCampaign(ctx context.Context, c store.Campaign) error
	GetCampaign(ctx context.Context, id string) (store.Campaign, bool, error)
	ListCampaigns(ctx context.Context, tenantID string) ([]store.Campaign, error)
	InsertSubscriber(ctx context.Context, sub store.Subscriber) error
	ListSubscribers(ctx context.Context, tenantID string) ([]store.Subscriber, error)
	InsertSuppression(ctx context.Context, in store.SuppressionInsert) (bool, error)
	ListSuppressions(ctx context.Context, tenantID string) ([]store.Suppression, error)
	DeleteSuppression(ctx context.Context, id string) (bool, error)
	GetEmailLog(ctx context.Context, id string) (store.EmailLog, bool, error)
	ListEmailLogs(ctx context.Context, tenantID, campaignID string) ([]store.EmailLog, error)
}

type API struct {
	Svc   *service.SendService
	Store Store
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/v1/tenants", a.handleCreateTenant).Methods(http.MethodPost)
	r.HandleFunc("/v1/tenants", a.handleListTenants).Methods(http.MethodGet)
	r.HandleFunc("/v1/tenants/{id}", a.handleGetTenant).Methods(http.MethodGet)

	r.HandleFunc("/v1/campaigns", a.handleCreateCampaign).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns", a.handleListCampaigns).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}/send", a.handleSendCampaign).Methods(http.MethodPost)

	r.HandleFunc("/v1/subscribers", a.handleCreateSubscriber).Methods(http.MethodPost)
	r.HandleFunc("/v1/subscribers", a.handleListSubscribers).Methods(http.MethodGet)

	r.HandleFunc("/v1/suppressions", a.handleCreateSuppression).Methods(http.MethodPost)
	r.HandleFunc("/v1/suppressions", a.handleListSuppressions).Methods(http.MethodGet)
	r.HandleFunc("/v1/suppressions/{id}", a.handleDeleteSuppression).Methods(http.MethodDelete)

	r.HandleFunc("/v1/send-test", a.handleSendEmail).Methods(http.MethodPost)
	r.HandleFunc("/v1/email-logs", a.handleListEmailLogs).Methods(http.MethodGet)
	r.HandleFunc("/v1/email-logs/{id}", a.handleGetEmailLog).Methods(http.MethodGet)
}

type createTenantRequest struct {
	Name         string `json:"name"`
	ContactEmail string `json:"contactEmail"`
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.ContactEmail == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	t := store.Tenant{
		ID:           util.NewTenantID(),
		Name:         req.Name,
		ContactEmail: util.NormalizeEmail(req.ContactEmail),
		CreatedAt:    util.NowUTC(),
	}
	if err := a.Store.InsertTenant(r.Context(), t); err != nil {
		slog.Error("insert tenant failed", "err", err, "name", req.Name)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, found, err := a.Store.GetTenant(r.Context(), id)
	if err != nil {
		slog.Error("get tenant failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := a.Store.ListTenants(r.Context())
	if err != nil {
		slog.Error("list tenants failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, tenants)
}

type createCampaignRequest struct {
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

func (a *API) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Name == "" || req.Subject == "" || req.Body == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}
	if _, found, err := a.Store.GetTenant(r.Context(), req.TenantID); err != nil {
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	} else if !found {
		http.Error(w, "unknown tenant", http.StatusBadRequest)
		return
	}

	c := store.Campaign{
		ID:        util.NewCampaignID(),
		TenantID:  req.TenantID,
		Name:      req.Name,
		Subject:   req.Subject,
		Body:      req.Body,
		Status:    "draft",
		CreatedAt: util.NowUTC(),
	}
	if err := a.Store.InsertCampaign(r.Context(), c); err != nil {
		slog.Error("insert campaign failed", "err", err, "tenant_id", req.TenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := a.Store.ListCampaigns(r.Context(), r.URL.Query().Get("tenantId"))
	if err != nil {
		slog.Error("list campaigns failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (a *API) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := a.Svc.EnqueueCampaign(r.Context(), id, util.NowUTC())
	if err != nil {
		if errors.Is(err, service.ErrCampaignNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("enqueue campaign failed", "err", err, "campaign_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"campaignId": id, "enqueued": n})
}

type createSubscriberRequest struct {
	TenantID  string `json:"tenantId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

func (a *API) handleCreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req createSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Email == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	sub := store.Subscriber{
		ID:        util.NewSubscriberID(),
		TenantID:  req.TenantID,
		Email:     util.NormalizeEmail(req.Email),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Status:    string(domain.SubscriberActive),
		CreatedAt: util.NowUTC(),
	}
	if err := a.Store.InsertSubscriber(r.Context(), sub); err != nil {
		slog.Error("insert subscriber failed", "err", err, "tenant_id", req.TenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		http.Error(w, "missing tenantId", http.StatusBadRequest)
		return
	}
	subs, err := a.Store.ListSubscribers(r.Context(), tenantID)
	if err != nil {
		slog.Error("list subscribers failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type createSuppressionRequest struct {
	TenantID string `json:"tenantId"`
	Email    string `json:"email"`
}

// handleCreateSuppression is the manual do-not-send entry point; bounce and
// complaint driven entries come from the events pipeline.
func (a *API) handleCreateSuppression(w http.ResponseWriter, r *http.Request) {
	var req createSuppressionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.Email == "" {
		http.Error(w, "missing fields", http.StatusBadRequest)
		return
	}

	in := store.SuppressionInsert{
		ID:       util.NewSuppressionID(),
		TenantID: req.TenantID,
		Email:    util.NormalizeEmail(req.Email),
		Reason:   string(domain.ReasonManual),
	}
	inserted, err := a.Store.InsertSuppression(r.Context(), in)
	if err != nil {
		slog.Error("insert suppression failed", "err", err, "tenant_id", req.TenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	status := http.StatusCreated
	if !inserted {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"tenantId": in.TenantID, "email": in.Email, "created": inserted})
}

func (a *API) handleListSuppressions(w http.ResponseWriter, r *http.Request) {
	sups, err := a.Store.ListSuppressions(r.Context(), r.URL.Query().Get("tenantId"))
	if err != nil {
		slog.Error("list suppressions failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, sups)
}

func (a *API) handleDeleteSuppression(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := a.Store.DeleteSuppression(r.Context(), id)
	if err != nil {
		slog.Error("delete suppression failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !deleted {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req domain.SendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := a.Svc.CreateAndEnqueueEmail(r.Context(), req, util.NewEmailLogID(), util.NowUTC())
	if err != nil {
		slog.Error("create and enqueue email failed",
			"err", err,
			"tenant_id", req.TenantID,
			"recipient", req.Recipient,
		)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (a *API) handleGetEmailLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	l, found, err := a.Store.GetEmailLog(r.Context(), id)
	if err != nil {
		slog.Error("get email log failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) handleListEmailLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.Store.ListEmailLogs(r.Context(), q.Get("tenantId"), q.Get("campaignId"))
	if err != nil {
		slog.Error("list email logs failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
