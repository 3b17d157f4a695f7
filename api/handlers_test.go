/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Invoice composition: totals, branch access, price and ownership failures
- Staff postings: role checks, overlap and not-found statuses
- Price history: as-of reads, admin-only writes, duplicates
- Metrics endpoint
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/staffing"
)

type testServer struct {
	h      *Handler
	router *chi.Mux
}

func newTestServer(t *testing.T) *testServer {
	h := setupTestHandler(t)
	require.NoError(t, h.Load(context.Background(), ScenarioSmallClinic))
	return &testServer{h: h, router: NewRouter(h, RouterOptions{MetricsPath: "/metrics"})}
}

func (s *testServer) do(t *testing.T, method, path string, body any, as staffing.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as.EmployeeID != "" {
		req.Header.Set(HeaderEmployeeID, string(as.EmployeeID))
	}
	if as.Role != "" {
		req.Header.Set(HeaderRole, string(as.Role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	asCashier = staffing.Principal{EmployeeID: demoCashier, Role: staffing.RoleCashier}
	asVet     = staffing.Principal{EmployeeID: demoVet, Role: staffing.RoleVeterinarian}
	asManager = staffing.Principal{EmployeeID: demoManager, Role: staffing.RoleManager}
	asAdmin   = staffing.Principal{EmployeeID: "emp-admin", Role: staffing.RoleAdmin}
	anonymous = staffing.Principal{}
)

func bobInvoice(issueDate string) ComposeInvoiceRequest {
	return ComposeInvoiceRequest{
		CustomerID:    string(demoBob),
		BranchID:      string(demoDowntown),
		IssueDate:     issueDate,
		PaymentMethod: "card",
		Products:      []ProductLineRequestDTO{{ProductID: string(demoKibble), Quantity: 3}},
		Services:      []ServiceLineRequestDTO{{ServiceID: string(demoExam), PetID: "pet-luna"}},
	}
}

// =============================================================================
// INVOICES
// =============================================================================

func TestComposeInvoice_DiscountedTotal(t *testing.T) {
	// GIVEN: kibble 100, exam 50, Bob has a 0.9 tier
	s := newTestServer(t)

	// WHEN: the downtown cashier sells 3 kibble and an exam for Luna
	rec := s.do(t, "POST", "/api/invoices", bobInvoice("2025-03-15"), asCashier)

	// THEN: 3 x 90 + 45 = 315
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[InvoiceDTO](t, rec)
	assert.Equal(t, "315.00", inv.Total.Amount)
	assert.Equal(t, "USD", inv.Total.Currency)
	assert.Equal(t, string(demoCashier), inv.IssuedBy)
	require.Len(t, inv.Products, 1)
	assert.Equal(t, "90.00", inv.Products[0].UnitPrice.Amount)
	assert.Equal(t, "270.00", inv.Products[0].Subtotal.Amount)
	require.Len(t, inv.Services, 1)
	assert.Equal(t, "45.00", inv.Services[0].Price.Amount)

	// AND: it can be read back unchanged
	got := s.do(t, "GET", "/api/invoices/"+inv.ID, nil, anonymous)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "315.00", decode[InvoiceDTO](t, got).Total.Amount)

	// AND: stock was adjusted after commit
	qty, err := s.h.Store.StockLevel(context.Background(), demoKibble, demoDowntown)
	require.NoError(t, err)
	assert.Equal(t, 37, qty)
}

func TestComposeInvoice_PriceChangeKeepsOldSnapshot(t *testing.T) {
	// GIVEN: an invoice issued before a price increase
	s := newTestServer(t)
	first := s.do(t, "POST", "/api/invoices", bobInvoice("2025-03-15"), asCashier)
	require.Equal(t, http.StatusCreated, first.Code)
	id := decode[InvoiceDTO](t, first).ID

	// WHEN: kibble goes to 120 from June
	rec := s.do(t, "POST", "/api/prices/products/kibble-5kg",
		SetPriceRequest{Amount: "120", EffectiveFrom: "2025-06-01"}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: the old invoice still reads 315, and a backdated one uses the old price
	assert.Equal(t, "315.00", decode[InvoiceDTO](t, s.do(t, "GET", "/api/invoices/"+id, nil, anonymous)).Total.Amount)

	backdated := s.do(t, "POST", "/api/invoices", bobInvoice("2025-05-31"), asCashier)
	require.Equal(t, http.StatusCreated, backdated.Code)
	assert.Equal(t, "315.00", decode[InvoiceDTO](t, backdated).Total.Amount)

	current := s.do(t, "POST", "/api/invoices", bobInvoice("2025-06-01"), asCashier)
	require.Equal(t, http.StatusCreated, current.Code)
	assert.Equal(t, "369.00", decode[InvoiceDTO](t, current).Total.Amount)
}

func TestComposeInvoice_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ComposeInvoiceRequest)
		as     staffing.Principal
		status int
	}{
		{"empty invoice", func(r *ComposeInvoiceRequest) { r.Products, r.Services = nil, nil }, asCashier, http.StatusBadRequest},
		{"zero quantity", func(r *ComposeInvoiceRequest) { r.Products[0].Quantity = 0 }, asCashier, http.StatusBadRequest},
		{"unknown payment method", func(r *ComposeInvoiceRequest) { r.PaymentMethod = "barter" }, asCashier, http.StatusBadRequest},
		{"pet of another customer", func(r *ComposeInvoiceRequest) { r.Services[0].PetID = "pet-milo" }, asCashier, http.StatusUnprocessableEntity},
		{"product without a price", func(r *ComposeInvoiceRequest) { r.Products[0].ProductID = "unlisted" }, asCashier, http.StatusUnprocessableEntity},
		{"cashier not yet hired", func(r *ComposeInvoiceRequest) { r.IssueDate = "2024-12-31" }, asCashier, http.StatusForbidden},
		{"vet after transfer uptown", func(r *ComposeInvoiceRequest) { r.IssueDate = "2025-07-01" }, asVet, http.StatusForbidden},
		{"anonymous caller", func(r *ComposeInvoiceRequest) {}, anonymous, http.StatusForbidden},
		{"unknown customer", func(r *ComposeInvoiceRequest) { r.CustomerID = "cust-ghost"; r.Services = nil }, asCashier, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			req := bobInvoice("2025-03-15")
			tt.mutate(&req)

			rec := s.do(t, "POST", "/api/invoices", req, tt.as)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			headers, lines, err := s.h.Store.Invoices().CountInvoices(context.Background())
			require.NoError(t, err)
			assert.Zero(t, headers, "nothing may be written")
			assert.Zero(t, lines)
		})
	}
}

func TestComposeInvoice_AdminMustNameIssuer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "POST", "/api/invoices", bobInvoice("2025-03-15"), staffing.Principal{Role: staffing.RoleAdmin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := bobInvoice("2025-03-15")
	req.IssuedBy = string(demoCashier)
	rec = s.do(t, "POST", "/api/invoices", req, staffing.Principal{Role: staffing.RoleAdmin})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestListCustomerInvoices(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/invoices", bobInvoice("2025-03-15"), asCashier).Code)
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/invoices", bobInvoice("2025-04-01"), asCashier).Code)

	rec := s.do(t, "GET", "/api/customers/cust-bob/invoices", nil, anonymous)

	require.Equal(t, http.StatusOK, rec.Code)
	invs := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invs, 2)
	assert.Equal(t, "2025-04-01", invs[0].IssueDate)
}

func TestGetInvoice_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/invoices/missing", nil, anonymous)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// STAFFING
// =============================================================================

func TestAssign_ManagerAtBranch(t *testing.T) {
	// GIVEN: the uptown manager
	s := newTestServer(t)

	// WHEN: posting a new hire uptown
	rec := s.do(t, "POST", "/api/employees/emp-new/assignments",
		AssignRequest{BranchID: string(demoUptown), StartDate: "2025-08-01"}, asManager)

	// THEN
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decode[AssignmentDTO](t, rec)
	assert.True(t, a.Open)
	assert.Equal(t, "2025-08-01", a.StartDate)

	active := decode[ActiveDTO](t, s.do(t, "GET",
		"/api/employees/emp-new/active?branch_id=branch-uptown&date=2025-08-01", nil, anonymous))
	assert.True(t, active.Active)
}

func TestAssign_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		req    AssignRequest
		as     staffing.Principal
		status int
	}{
		{"cashier may not assign", AssignRequest{BranchID: string(demoDowntown), StartDate: "2025-08-01"}, asCashier, http.StatusForbidden},
		{"manager of another branch", AssignRequest{BranchID: string(demoDowntown), StartDate: "2025-08-01"}, asManager, http.StatusForbidden},
		{"same branch again", AssignRequest{BranchID: string(demoUptown), StartDate: "2025-08-01"}, asAdmin, http.StatusConflict},
		{"backdated into history", AssignRequest{BranchID: string(demoDowntown), StartDate: "2025-06-01"}, asAdmin, http.StatusConflict},
		{"bad date", AssignRequest{BranchID: string(demoDowntown), StartDate: "01/08/2025"}, asAdmin, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)

			rec := s.do(t, "POST", "/api/employees/emp-vet-lan/assignments", tt.req, tt.as)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestTerminate(t *testing.T) {
	s := newTestServer(t)

	// No open posting downtown for the vet any more
	rec := s.do(t, "POST", "/api/employees/emp-vet-lan/terminate",
		TerminateRequest{BranchID: string(demoDowntown), EndDate: "2025-09-01"}, asAdmin)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, "POST", "/api/employees/emp-vet-lan/terminate",
		TerminateRequest{BranchID: string(demoUptown), EndDate: "2025-09-01"}, asManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	a := decode[AssignmentDTO](t, rec)
	require.NotNil(t, a.EndDate)
	assert.Equal(t, "2025-09-01", *a.EndDate)

	branch := decode[BranchDTO](t, s.do(t, "GET", "/api/employees/emp-vet-lan/branch", nil, anonymous))
	assert.False(t, branch.Assigned)
}

func TestGetBranch_OnDate(t *testing.T) {
	s := newTestServer(t)

	before := decode[BranchDTO](t, s.do(t, "GET", "/api/employees/emp-vet-lan/branch?date=2025-06-30", nil, anonymous))
	on := decode[BranchDTO](t, s.do(t, "GET", "/api/employees/emp-vet-lan/branch?date=2025-07-01", nil, anonymous))

	assert.Equal(t, string(demoDowntown), before.BranchID)
	assert.Equal(t, string(demoUptown), on.BranchID)
}

func TestGetBranchStaff(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/branches/branch-downtown/staff?date=2025-03-01", nil, anonymous)

	require.Equal(t, http.StatusOK, rec.Code)
	staff := decode[[]AssignmentDTO](t, rec)
	require.Len(t, staff, 2)
	assert.Equal(t, string(demoCashier), staff[0].EmployeeID)
	assert.Equal(t, string(demoVet), staff[1].EmployeeID)
}

// =============================================================================
// PRICES
// =============================================================================

func TestPrices(t *testing.T) {
	s := newTestServer(t)
	path := "/api/prices/products/kibble-5kg"

	// Only admins write
	rec := s.do(t, "POST", path, SetPriceRequest{Amount: "120", EffectiveFrom: "2025-06-01"}, asManager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, "POST", path, SetPriceRequest{Amount: "120", EffectiveFrom: "2025-06-01"}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Same date twice
	rec = s.do(t, "POST", path, SetPriceRequest{Amount: "125", EffectiveFrom: "2025-06-01"}, asAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// As-of reads
	assert.Equal(t, "100.00", decode[PriceVersionDTO](t, s.do(t, "GET", path+"?as_of=2025-05-31", nil, anonymous)).Price.Amount)
	assert.Equal(t, "120.00", decode[PriceVersionDTO](t, s.do(t, "GET", path+"?as_of=2025-06-01", nil, anonymous)).Price.Amount)
	assert.Equal(t, "120.00", decode[PriceVersionDTO](t, s.do(t, "GET", path, nil, anonymous)).Price.Amount)
	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", path+"?as_of=2024-12-31", nil, anonymous).Code)

	// History newest first
	history := decode[[]PriceVersionDTO](t, s.do(t, "GET", path+"/history", nil, anonymous))
	require.Len(t, history, 2)
	assert.Equal(t, "2025-06-01", history[0].EffectiveFrom)
	assert.Equal(t, "2025-01-01", history[1].EffectiveFrom)
}

func TestResolvePrice(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/prices/services/vaccination/resolve?as_of=2025-03-01&customer_id=cust-bob", nil, anonymous)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[ResolvedPriceDTO](t, rec)
	assert.Equal(t, "0.9", dto.Discount)
	assert.Equal(t, "31.73", dto.Price.Amount) // 35.25 x 0.9 = 31.725, half away from zero

	rec = s.do(t, "GET", "/api/prices/services/grooming/resolve", nil, anonymous)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPrices_UnknownKind(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/prices/widgets/x", nil, anonymous)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.do(t, "POST", "/api/invoices", bobInvoice("2025-03-15"), asCashier).Code)

	rec := s.do(t, "GET", "/metrics", nil, anonymous)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `clinic_invoice_committed_total{branch="branch-downtown",payment_method="card"} 1`)
}
