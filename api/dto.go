/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Dates travel as "YYYY-MM-DD" strings and
  amounts as decimal strings, so no float ever touches a price.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Prices:       SetPriceRequest, PriceVersionDTO, ResolvedPriceDTO
  Staffing:     AssignRequest, TerminateRequest, AssignmentDTO, BranchDTO
  Invoices:     ComposeInvoiceRequest, InvoiceDTO
  Scenarios:    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/staffing"
)

// =============================================================================
// MONEY
// =============================================================================

type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

func toMoneyDTO(m generic.Money) MoneyDTO {
	return MoneyDTO{
		Amount:   m.Value.StringFixed(m.Currency.Fraction()),
		Currency: string(m.Currency),
		Display:  m.Display(),
	}
}

// =============================================================================
// PRICES
// =============================================================================

// SetPriceRequest appends a price version. Currency defaults to the catalog's.
type SetPriceRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	EffectiveFrom string `json:"effective_from"`
}

type PriceVersionDTO struct {
	ID            string    `json:"id"`
	Price         MoneyDTO  `json:"price"`
	EffectiveFrom string    `json:"effective_from"`
	RecordedAt    time.Time `json:"recorded_at"`
}

func toPriceVersionDTO[K ~string](v generic.Version[K, generic.Money]) PriceVersionDTO {
	return PriceVersionDTO{
		ID:            string(v.Key),
		Price:         toMoneyDTO(v.Value),
		EffectiveFrom: v.EffectiveFrom.String(),
		RecordedAt:    v.RecordedAt,
	}
}

func toPriceVersionDTOs[K ~string](vs []generic.Version[K, generic.Money]) []PriceVersionDTO {
	result := make([]PriceVersionDTO, len(vs))
	for i, v := range vs {
		result[i] = toPriceVersionDTO(v)
	}
	return result
}

// ResolvedPriceDTO is a snapshot as an invoice line would receive it.
type ResolvedPriceDTO struct {
	ID         string   `json:"id"`
	AsOf       string   `json:"as_of"`
	CustomerID string   `json:"customer_id,omitempty"`
	Discount   string   `json:"discount"`
	Price      MoneyDTO `json:"price"`
}

// =============================================================================
// STAFFING
// =============================================================================

type AssignRequest struct {
	BranchID  string `json:"branch_id"`
	StartDate string `json:"start_date"`
}

type TerminateRequest struct {
	BranchID string `json:"branch_id"`
	EndDate  string `json:"end_date"`
}

type AssignmentDTO struct {
	ID         string    `json:"id"`
	EmployeeID string    `json:"employee_id"`
	BranchID   string    `json:"branch_id"`
	StartDate  string    `json:"start_date"`
	EndDate    *string   `json:"end_date,omitempty"`
	Open       bool      `json:"open"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAssignmentDTO(a staffing.Assignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:         a.ID,
		EmployeeID: string(a.EmployeeID),
		BranchID:   string(a.BranchID),
		StartDate:  a.StartDate.String(),
		Open:       a.IsOpen(),
		CreatedAt:  a.CreatedAt,
	}
	if a.EndDate != nil {
		end := a.EndDate.String()
		dto.EndDate = &end
	}
	return dto
}

func toAssignmentDTOs(as []staffing.Assignment) []AssignmentDTO {
	result := make([]AssignmentDTO, len(as))
	for i, a := range as {
		result[i] = toAssignmentDTO(a)
	}
	return result
}

// BranchDTO answers "where is this employee" for a date.
type BranchDTO struct {
	EmployeeID string `json:"employee_id"`
	Date       string `json:"date"`
	BranchID   string `json:"branch_id,omitempty"`
	Assigned   bool   `json:"assigned"`
}

type ActiveDTO struct {
	EmployeeID string `json:"employee_id"`
	BranchID   string `json:"branch_id"`
	Date       string `json:"date"`
	Active     bool   `json:"active"`
}

// =============================================================================
// INVOICES
// =============================================================================

type ProductLineRequestDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type ServiceLineRequestDTO struct {
	ServiceID string `json:"service_id"`
	PetID     string `json:"pet_id"`
	SourceRef string `json:"source_ref,omitempty"`
}

// ComposeInvoiceRequest is the order-entry payload. IssuedBy defaults to the
// calling employee; IssueDate defaults to today.
type ComposeInvoiceRequest struct {
	CustomerID    string                  `json:"customer_id"`
	BranchID      string                  `json:"branch_id"`
	IssuedBy      string                  `json:"issued_by,omitempty"`
	IssueDate     string                  `json:"issue_date,omitempty"`
	PaymentMethod string                  `json:"payment_method"`
	Products      []ProductLineRequestDTO `json:"products"`
	Services      []ServiceLineRequestDTO `json:"services"`
}

type ProductLineDTO struct {
	ProductID string   `json:"product_id"`
	Quantity  int      `json:"quantity"`
	UnitPrice MoneyDTO `json:"unit_price"`
	Subtotal  MoneyDTO `json:"subtotal"`
}

type ServiceLineDTO struct {
	ServiceID string   `json:"service_id"`
	PetID     string   `json:"pet_id"`
	Price     MoneyDTO `json:"price"`
	SourceRef string   `json:"source_ref,omitempty"`
}

type InvoiceDTO struct {
	ID            string           `json:"id"`
	CustomerID    string           `json:"customer_id"`
	BranchID      string           `json:"branch_id"`
	IssuedBy      string           `json:"issued_by"`
	IssueDate     string           `json:"issue_date"`
	PaymentMethod string           `json:"payment_method"`
	Products      []ProductLineDTO `json:"products"`
	Services      []ServiceLineDTO `json:"services"`
	Total         MoneyDTO         `json:"total"`
	CreatedAt     time.Time        `json:"created_at"`
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:            string(inv.ID),
		CustomerID:    string(inv.CustomerID),
		BranchID:      string(inv.BranchID),
		IssuedBy:      string(inv.IssuedBy),
		IssueDate:     inv.IssueDate.String(),
		PaymentMethod: string(inv.PaymentMethod),
		Products:      make([]ProductLineDTO, 0, len(inv.ProductLines)),
		Services:      make([]ServiceLineDTO, 0, len(inv.ServiceLines)),
		Total:         toMoneyDTO(inv.Total),
		CreatedAt:     inv.CreatedAt,
	}
	for _, l := range inv.ProductLines {
		dto.Products = append(dto.Products, ProductLineDTO{
			ProductID: string(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: toMoneyDTO(l.UnitPrice),
			Subtotal:  toMoneyDTO(l.Subtotal()),
		})
	}
	for _, l := range inv.ServiceLines {
		dto.Services = append(dto.Services, ServiceLineDTO{
			ServiceID: string(l.ServiceID),
			PetID:     string(l.PetID),
			Price:     toMoneyDTO(l.Price),
			SourceRef: l.SourceRef,
		})
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
