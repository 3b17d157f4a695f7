/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with a small two-branch clinic so the API can be
	explored without hand-entering prices, pets and postings.

AVAILABLE SCENARIOS:

	small-clinic:  Two branches, three staff, two customers with pets,
	               product and service price lists, branch stock
	price-change:  small-clinic plus a mid-year price increase and two
	               invoices issued either side of it

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create branches, customers, pets, stock
 3. Append price versions through the Catalog
 4. Post staff through the Roster
 5. Optionally compose invoices through the Composer

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "price-change"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - server.go: Scenario routes
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
	"github.com/warp/clinic-engine/staffing"
	"github.com/warp/clinic-engine/store/sqlstore"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const (
	ScenarioSmallClinic = "small-clinic"
	ScenarioPriceChange = "price-change"
)

var scenarios = []ScenarioDTO{
	{
		ID:          ScenarioSmallClinic,
		Name:        "Small Clinic",
		Description: "Two branches with staff, customers, pets, prices and stock",
	},
	{
		ID:          ScenarioPriceChange,
		Name:        "Price Change",
		Description: "Kibble goes from 100 to 120 on 2025-06-01; invoices on both sides keep their own price",
	},
}

// Demo identifiers.
const (
	demoDowntown = staffing.BranchID("branch-downtown")
	demoUptown   = staffing.BranchID("branch-uptown")

	demoVet     = staffing.EmployeeID("emp-vet-lan")
	demoCashier = staffing.EmployeeID("emp-cashier-minh")
	demoManager = staffing.EmployeeID("emp-manager-hoa")

	demoAlice = billing.CustomerID("cust-alice")
	demoBob   = billing.CustomerID("cust-bob")

	demoKibble = pricing.ProductID("kibble-5kg")
	demoDrops  = pricing.ProductID("flea-drops")
	demoExam   = pricing.ServiceID("exam")
	demoVax    = pricing.ServiceID("vaccination")
)

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the id of the last loaded scenario.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario resets the database and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetDatabase clears all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Load resets the store and loads the named scenario. Used by the handler
// and by SEED_DEMO at startup.
func (h *Handler) Load(ctx context.Context, scenarioID string) error {
	var load func(context.Context) error
	switch scenarioID {
	case ScenarioSmallClinic:
		load = h.loadSmallClinic
	case ScenarioPriceChange:
		load = h.loadPriceChange
	default:
		return fmt.Errorf("%w: unknown scenario %q", generic.ErrInvalidInput, scenarioID)
	}

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := load(ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", scenarioID, err)
	}
	h.currentScenario = scenarioID
	h.Log.WithField("scenario", scenarioID).Info("scenario loaded")
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadSmallClinic(ctx context.Context) error {
	s := h.Store
	d := generic.MustParseDate

	for _, b := range []sqlstore.Branch{
		{ID: demoDowntown, Name: "Downtown"},
		{ID: demoUptown, Name: "Uptown"},
	} {
		if err := s.SaveBranch(ctx, b); err != nil {
			return err
		}
	}

	for _, c := range []sqlstore.Customer{
		{ID: demoAlice, Name: "Alice Nguyen"},
		{ID: demoBob, Name: "Bob Tran", DiscountMultiplier: parseDecimal("0.9")},
	} {
		if err := s.SaveCustomer(ctx, c); err != nil {
			return err
		}
	}

	for _, p := range []sqlstore.Pet{
		{ID: "pet-milo", CustomerID: demoAlice, Name: "Milo", Species: "dog"},
		{ID: "pet-luna", CustomerID: demoBob, Name: "Luna", Species: "cat"},
		{ID: "pet-bao", CustomerID: demoBob, Name: "Bao", Species: "dog"},
	} {
		if err := s.SavePet(ctx, p); err != nil {
			return err
		}
	}

	for _, b := range []staffing.BranchID{demoDowntown, demoUptown} {
		if err := s.SetStock(ctx, demoKibble, b, 40); err != nil {
			return err
		}
		if err := s.SetStock(ctx, demoDrops, b, 25); err != nil {
			return err
		}
	}

	usd := func(amount string) generic.Money {
		m, _ := generic.ParseMoney(amount, h.Catalog.Currency)
		return m
	}
	if _, err := h.Catalog.SetProductPrice(ctx, demoKibble, usd("100"), d("2025-01-01")); err != nil {
		return err
	}
	if _, err := h.Catalog.SetProductPrice(ctx, demoDrops, usd("15.50"), d("2025-01-01")); err != nil {
		return err
	}
	if _, err := h.Catalog.SetServicePrice(ctx, demoExam, usd("50"), d("2025-01-01")); err != nil {
		return err
	}
	if _, err := h.Catalog.SetServicePrice(ctx, demoVax, usd("35.25"), d("2025-01-01")); err != nil {
		return err
	}

	postings := []struct {
		employee staffing.EmployeeID
		branch   staffing.BranchID
		start    string
	}{
		{demoVet, demoDowntown, "2025-01-01"},
		{demoCashier, demoDowntown, "2025-01-01"},
		{demoManager, demoUptown, "2025-01-01"},
		{demoVet, demoUptown, "2025-07-01"}, // transfer
	}
	for _, p := range postings {
		if _, err := h.Roster.Assign(ctx, p.employee, p.branch, d(p.start)); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPriceChange(ctx context.Context) error {
	if err := h.loadSmallClinic(ctx); err != nil {
		return err
	}
	d := generic.MustParseDate

	increase, _ := generic.ParseMoney("120", h.Catalog.Currency)
	if _, err := h.Catalog.SetProductPrice(ctx, demoKibble, increase, d("2025-06-01")); err != nil {
		return err
	}

	// One invoice before and one after the increase. Bob's 10% tier applies to both.
	for _, issued := range []string{"2025-03-15", "2025-06-15"} {
		_, err := h.Composer.Compose(ctx, billing.ComposeRequest{
			CustomerID:    demoBob,
			BranchID:      demoDowntown,
			IssuedBy:      demoCashier,
			IssueDate:     d(issued),
			PaymentMethod: billing.PaymentCard,
			ProductLines:  []billing.ProductLineRequest{{ProductID: demoKibble, Quantity: 3}},
			ServiceLines:  []billing.ServiceLineRequest{{ServiceID: demoExam, PetID: "pet-luna"}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
