/*
handlers.go - HTTP API handlers for the clinic engine

PURPOSE:
  Exposes price history, staff postings and invoice composition over REST.
  Handlers parse and validate the request, call the domain service, and
  translate domain errors into HTTP statuses.

ENDPOINTS:
  Prices (kind = products | services):
    GET    /api/prices/{kind}/{id}           Version in effect (?as_of=, default today)
    POST   /api/prices/{kind}/{id}           Append a version
    GET    /api/prices/{kind}/{id}/history   All versions, newest first
    GET    /api/prices/{kind}/{id}/resolve   Invoice snapshot (?as_of=&customer_id=)

  Staffing:
    GET    /api/employees/{id}/assignments   Posting history
    POST   /api/employees/{id}/assignments   Assign (ends the current posting)
    POST   /api/employees/{id}/terminate     End the posting at a branch
    GET    /api/employees/{id}/branch        Branch on ?date= (default: open posting)
    GET    /api/employees/{id}/active        ?branch_id=&date=
    GET    /api/branches/{id}/staff          Staff posted on ?date=

  Invoices:
    POST   /api/invoices                     Compose
    GET    /api/invoices/{id}
    GET    /api/customers/{id}/invoices

CALLER IDENTITY:
  The authenticated principal arrives in X-Employee-ID and X-Role, set by the
  gateway in front of this service. It is parsed once per request into a
  staffing.Principal and passed explicitly to staffing.Guard.

ERROR HANDLING:
  - 400: Invalid input, empty invoice, bad quantity or payment method
  - 403: Caller not posted at the branch, or role not allowed
  - 404: Unknown invoice, customer, price or open posting
  - 409: Duplicate price version, overlapping posting, write conflict
  - 422: Price not defined on the issue date, pet not owned by customer
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
	"github.com/warp/clinic-engine/staffing"
	"github.com/warp/clinic-engine/store/sqlstore"
	"github.com/warp/clinic-engine/telemetry"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlstore.Store
	Catalog  *pricing.Catalog
	Roster   *staffing.Roster
	Guard    *staffing.Guard
	Composer *billing.Composer
	Invoices billing.Store
	Metrics  *telemetry.Metrics // optional
	Log      logrus.FieldLogger
	Clock    generic.Clock

	currentScenario string
}

// NewHandler wires the domain services over store. metrics may be nil.
func NewHandler(store *sqlstore.Store, currency generic.Currency, log logrus.FieldLogger, metrics *telemetry.Metrics) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	roster := staffing.NewRoster(store.Assignments(), nil)
	invoices := store.Invoices()

	composer := billing.NewComposer(invoices, store)
	composer.Discounts = store
	composer.Inventory = store
	composer.Staff = roster
	composer.Log = log
	if metrics != nil {
		composer.Reporter = &telemetry.Reporter{Metrics: metrics, Log: log}
	}

	return &Handler{
		Store:    store,
		Catalog:  pricing.NewCatalog(store, currency, nil),
		Roster:   roster,
		Guard:    &staffing.Guard{Roster: roster},
		Composer: composer,
		Invoices: invoices,
		Metrics:  metrics,
		Log:      log,
	}
}

func (h *Handler) today() generic.Date {
	if h.Clock != nil {
		return h.Clock()
	}
	return generic.Today()
}

// =============================================================================
// PRICE ENDPOINTS
// =============================================================================

const (
	kindProducts = "products"
	kindServices = "services"
)

// GetPrice returns the version in effect on ?as_of (default today).
// GET /api/prices/{kind}/{id}
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	asOf, err := h.dateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	var dto PriceVersionDTO
	switch chi.URLParam(r, "kind") {
	case kindProducts:
		v, err := h.Catalog.ProductPriceAsOf(ctx, pricing.ProductID(id), asOf)
		if err != nil {
			writeDomainError(w, "Failed to get price", err)
			return
		}
		dto = toPriceVersionDTO(v)
	case kindServices:
		v, err := h.Catalog.ServicePriceAsOf(ctx, pricing.ServiceID(id), asOf)
		if err != nil {
			writeDomainError(w, "Failed to get price", err)
			return
		}
		dto = toPriceVersionDTO(v)
	default:
		writeError(w, http.StatusNotFound, "Unknown price kind", nil)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetPrice appends a price version. Admins only.
// POST /api/prices/{kind}/{id}
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if p := principalFrom(r); p.Role != staffing.RoleAdmin {
		writeError(w, http.StatusForbidden, "Only admins may change prices", nil)
		return
	}

	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := generic.ParseDate(req.EffectiveFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from date", err)
		return
	}
	price, err := generic.ParseMoney(req.Amount, generic.Currency(strings.ToUpper(req.Currency)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	var dto PriceVersionDTO
	switch chi.URLParam(r, "kind") {
	case kindProducts:
		v, err := h.Catalog.SetProductPrice(ctx, pricing.ProductID(id), price, from)
		if err != nil {
			writeDomainError(w, "Failed to set price", err)
			return
		}
		dto = toPriceVersionDTO(v)
	case kindServices:
		v, err := h.Catalog.SetServicePrice(ctx, pricing.ServiceID(id), price, from)
		if err != nil {
			writeDomainError(w, "Failed to set price", err)
			return
		}
		dto = toPriceVersionDTO(v)
	default:
		writeError(w, http.StatusNotFound, "Unknown price kind", nil)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// GetPriceHistory lists every version, newest first.
// GET /api/prices/{kind}/{id}/history
func (h *Handler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var dtos []PriceVersionDTO
	switch chi.URLParam(r, "kind") {
	case kindProducts:
		vs, err := h.Catalog.ProductPriceHistory(ctx, pricing.ProductID(id))
		if err != nil {
			writeDomainError(w, "Failed to get price history", err)
			return
		}
		dtos = toPriceVersionDTOs(vs)
	case kindServices:
		vs, err := h.Catalog.ServicePriceHistory(ctx, pricing.ServiceID(id))
		if err != nil {
			writeDomainError(w, "Failed to get price history", err)
			return
		}
		dtos = toPriceVersionDTOs(vs)
	default:
		writeError(w, http.StatusNotFound, "Unknown price kind", nil)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolvePrice previews the snapshot an invoice line would get.
// GET /api/prices/{kind}/{id}/resolve?as_of=&customer_id=
func (h *Handler) ResolvePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	customerID := r.URL.Query().Get("customer_id")

	asOf, err := h.dateParam(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	discount := pricing.NoDiscount
	if customerID != "" {
		discount, err = h.Store.DiscountMultiplierFor(ctx, billing.CustomerID(customerID))
		if err != nil {
			writeDomainError(w, "Failed to get customer discount", err)
			return
		}
	}

	resolver := &pricing.Resolver{Products: h.Store.ProductPrices(), Services: h.Store.ServicePrices()}
	var price generic.Money
	switch chi.URLParam(r, "kind") {
	case kindProducts:
		price, err = resolver.ResolveProductPrice(ctx, pricing.ProductID(id), asOf, discount)
	case kindServices:
		price, err = resolver.ResolveServicePrice(ctx, pricing.ServiceID(id), asOf, discount)
	default:
		writeError(w, http.StatusNotFound, "Unknown price kind", nil)
		return
	}
	if err != nil {
		writeDomainError(w, "Failed to resolve price", err)
		return
	}

	writeJSON(w, http.StatusOK, ResolvedPriceDTO{
		ID:         id,
		AsOf:       asOf.String(),
		CustomerID: customerID,
		Discount:   discount.String(),
		Price:      toMoneyDTO(price),
	})
}

// =============================================================================
// STAFFING ENDPOINTS
// =============================================================================

// GetAssignments returns the posting history of an employee.
// GET /api/employees/{id}/assignments
func (h *Handler) GetAssignments(w http.ResponseWriter, r *http.Request) {
	employeeID := staffing.EmployeeID(chi.URLParam(r, "id"))

	history, err := h.Roster.History(r.Context(), employeeID)
	if err != nil {
		writeDomainError(w, "Failed to get assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTOs(history))
}

// Assign posts an employee at a branch, closing the current posting.
// Admins, or managers posted at the target branch on the start date.
// POST /api/employees/{id}/assignments
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID := staffing.EmployeeID(chi.URLParam(r, "id"))

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	if req.BranchID == "" {
		writeError(w, http.StatusBadRequest, "branch_id is required", nil)
		return
	}
	branchID := staffing.BranchID(req.BranchID)

	if err := h.authorizeStaffChange(ctx, principalFrom(r), branchID, start); err != nil {
		writeDomainError(w, "Not allowed to change postings", err)
		return
	}

	a, err := h.Roster.Assign(ctx, employeeID, branchID, start)
	h.recordAssignment("assign", err)
	if err != nil {
		writeDomainError(w, "Failed to assign employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// Terminate ends the employee's posting at a branch.
// POST /api/employees/{id}/terminate
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID := staffing.EmployeeID(chi.URLParam(r, "id"))

	var req TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	end, err := generic.ParseDate(req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_date", err)
		return
	}
	branchID := staffing.BranchID(req.BranchID)

	// The manager must be at the branch the day before it loses the employee.
	if err := h.authorizeStaffChange(ctx, principalFrom(r), branchID, end.AddDays(-1)); err != nil {
		writeDomainError(w, "Not allowed to change postings", err)
		return
	}

	a, err := h.Roster.Terminate(ctx, employeeID, branchID, end)
	h.recordAssignment("terminate", err)
	if err != nil {
		writeDomainError(w, "Failed to terminate posting", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(a))
}

// GetBranch answers where the employee is posted. Without ?date it reports
// the open posting; with it, the posting covering that day.
// GET /api/employees/{id}/branch
func (h *Handler) GetBranch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	employeeID := staffing.EmployeeID(chi.URLParam(r, "id"))

	var (
		branch staffing.BranchID
		ok     bool
		err    error
		date   string
	)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, perr := generic.ParseDate(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", perr)
			return
		}
		date = d.String()
		branch, ok, err = h.Roster.BranchAt(ctx, employeeID, d)
	} else {
		date = h.today().String()
		branch, ok, err = h.Roster.CurrentBranch(ctx, employeeID)
	}
	if err != nil {
		writeDomainError(w, "Failed to get branch", err)
		return
	}

	writeJSON(w, http.StatusOK, BranchDTO{
		EmployeeID: string(employeeID),
		Date:       date,
		BranchID:   string(branch),
		Assigned:   ok,
	})
}

// GetActive reports whether the employee was posted at a branch on a date.
// GET /api/employees/{id}/active?branch_id=&date=
func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	employeeID := staffing.EmployeeID(chi.URLParam(r, "id"))
	branchID := staffing.BranchID(r.URL.Query().Get("branch_id"))
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "branch_id is required", nil)
		return
	}
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	active, err := h.Roster.IsActiveAt(r.Context(), employeeID, branchID, date)
	if err != nil {
		writeDomainError(w, "Failed to check posting", err)
		return
	}
	writeJSON(w, http.StatusOK, ActiveDTO{
		EmployeeID: string(employeeID),
		BranchID:   string(branchID),
		Date:       date.String(),
		Active:     active,
	})
}

// GetBranchStaff lists everyone posted at the branch on ?date.
// GET /api/branches/{id}/staff
func (h *Handler) GetBranchStaff(w http.ResponseWriter, r *http.Request) {
	branchID := staffing.BranchID(chi.URLParam(r, "id"))
	date, err := h.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	staff, err := h.Roster.StaffAt(r.Context(), branchID, date)
	if err != nil {
		writeDomainError(w, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTOs(staff))
}

func (h *Handler) authorizeStaffChange(ctx context.Context, p staffing.Principal, branchID staffing.BranchID, date generic.Date) error {
	switch p.Role {
	case staffing.RoleAdmin, staffing.RoleManager:
		return h.Guard.Authorize(ctx, p, branchID, date)
	default:
		return fmt.Errorf("%w: role %q may not change postings", generic.ErrNotPermitted, p.Role)
	}
}

func (h *Handler) recordAssignment(operation string, err error) {
	if h.Metrics != nil {
		h.Metrics.RecordAssignment(operation, err)
	}
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

// ComposeInvoice prices and commits an invoice. The caller must be posted at
// the invoice's branch on its issue date (admins excepted).
// POST /api/invoices
func (h *Handler) ComposeInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := principalFrom(r)

	var req ComposeInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	issueDate := h.today()
	if req.IssueDate != "" {
		d, err := generic.ParseDate(req.IssueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid issue_date", err)
			return
		}
		issueDate = d
	}
	issuedBy := staffing.EmployeeID(req.IssuedBy)
	if issuedBy == "" {
		issuedBy = principal.EmployeeID
	}
	branchID := staffing.BranchID(req.BranchID)

	if err := h.Guard.Authorize(ctx, principal, branchID, issueDate); err != nil {
		writeDomainError(w, "Not allowed to invoice for this branch", err)
		return
	}

	compose := billing.ComposeRequest{
		CustomerID:    billing.CustomerID(req.CustomerID),
		BranchID:      branchID,
		IssuedBy:      issuedBy,
		IssueDate:     issueDate,
		PaymentMethod: billing.PaymentMethod(strings.ToLower(req.PaymentMethod)),
	}
	for _, l := range req.Products {
		compose.ProductLines = append(compose.ProductLines, billing.ProductLineRequest{
			ProductID: pricing.ProductID(l.ProductID),
			Quantity:  l.Quantity,
		})
	}
	for _, l := range req.Services {
		compose.ServiceLines = append(compose.ServiceLines, billing.ServiceLineRequest{
			ServiceID: pricing.ServiceID(l.ServiceID),
			PetID:     billing.PetID(l.PetID),
			SourceRef: l.SourceRef,
		})
	}

	inv, err := h.Composer.Compose(ctx, compose)
	if err != nil {
		writeDomainError(w, "Failed to compose invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GetInvoice returns one invoice with its lines.
// GET /api/invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Invoice(r.Context(), billing.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// ListCustomerInvoices returns a customer's invoices, newest first.
// GET /api/customers/{id}/invoices
func (h *Handler) ListCustomerInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Invoices.InvoicesByCustomer(r.Context(), billing.CustomerID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to list invoices", err)
		return
	}
	dtos := make([]InvoiceDTO, 0, len(invs))
	for i := range invs {
		dtos = append(dtos, toInvoiceDTO(&invs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// Headers carrying the authenticated caller.
const (
	HeaderEmployeeID = "X-Employee-ID"
	HeaderRole       = "X-Role"
)

func principalFrom(r *http.Request) staffing.Principal {
	return staffing.Principal{
		EmployeeID: staffing.EmployeeID(strings.TrimSpace(r.Header.Get(HeaderEmployeeID))),
		Role:       staffing.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))),
	}
}

// dateParam parses a YYYY-MM-DD query parameter, defaulting to today.
func (h *Handler) dateParam(r *http.Request, name string) (generic.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return h.today(), nil
	}
	return generic.ParseDate(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error's sentinel.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrPriceNotDefined), errors.Is(err, generic.ErrOwnership):
		return http.StatusUnprocessableEntity
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseDecimal is shared by scenario loaders.
func parseDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
