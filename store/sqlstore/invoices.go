package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/billing"
	"github.com/warp/clinic-engine/generic"
	"github.com/warp/clinic-engine/pricing"
	"github.com/warp/clinic-engine/staffing"
)

// =============================================================================
// INVOICE STORE (billing.Store)
// =============================================================================

type Invoices struct {
	store *Store
}

// WithTx runs fn in one transaction. Price reads and the invoice write share it.
func (s *Invoices) WithTx(ctx context.Context, fn func(billing.Tx) error) error {
	return s.store.withTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&invoiceTx{store: s.store, tx: tx})
	})
}

type invoiceTx struct {
	store *Store
	tx    *sqlx.Tx
}

func (t *invoiceTx) ProductPrices() generic.VersionReader[pricing.ProductID, generic.Money] {
	return &versionTable[pricing.ProductID, generic.Money]{store: t.store, q: t.tx, kind: kindProduct, inTx: true}
}

func (t *invoiceTx) ServicePrices() generic.VersionReader[pricing.ServiceID, generic.Money] {
	return &versionTable[pricing.ServiceID, generic.Money]{store: t.store, q: t.tx, kind: kindService, inTx: true}
}

// InsertInvoice writes the header and then each line batch through one
// prepared statement per line kind, all inside the caller's transaction.
func (t *invoiceTx) InsertInvoice(ctx context.Context, inv *billing.Invoice) error {
	header := t.tx.Rebind(`
		INSERT INTO invoices
		(id, customer_id, branch_id, issued_by, issue_date, payment_method, total, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, header,
		inv.ID,
		inv.CustomerID,
		inv.BranchID,
		inv.IssuedBy,
		inv.IssueDate.String(),
		inv.PaymentMethod,
		inv.Total.Value.String(),
		inv.Total.Currency,
		inv.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert invoice %s: %w", inv.ID, classify(err))
	}

	if len(inv.ProductLines) > 0 {
		stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(`
			INSERT INTO invoice_product_lines (invoice_id, line_no, product_id, quantity, unit_price, currency)
			VALUES (?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare product line insert: %w", err)
		}
		defer stmt.Close()

		for i, l := range inv.ProductLines {
			if _, err := stmt.ExecContext(ctx, inv.ID, i+1, l.ProductID, l.Quantity,
				l.UnitPrice.Value.String(), l.UnitPrice.Currency); err != nil {
				return fmt.Errorf("failed to insert product line %d of %s: %w", i+1, inv.ID, classify(err))
			}
		}
	}

	if len(inv.ServiceLines) > 0 {
		stmt, err := t.tx.PreparexContext(ctx, t.tx.Rebind(`
			INSERT INTO invoice_service_lines (invoice_id, line_no, service_id, pet_id, price, currency, source_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare service line insert: %w", err)
		}
		defer stmt.Close()

		for i, l := range inv.ServiceLines {
			if _, err := stmt.ExecContext(ctx, inv.ID, i+1, l.ServiceID, l.PetID,
				l.Price.Value.String(), l.Price.Currency, l.SourceRef); err != nil {
				return fmt.Errorf("failed to insert service line %d of %s: %w", i+1, inv.ID, classify(err))
			}
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

type invoiceRow struct {
	ID            string `db:"id"`
	CustomerID    string `db:"customer_id"`
	BranchID      string `db:"branch_id"`
	IssuedBy      string `db:"issued_by"`
	IssueDate     string `db:"issue_date"`
	PaymentMethod string `db:"payment_method"`
	Total         string `db:"total"`
	Currency      string `db:"currency"`
	CreatedAt     string `db:"created_at"`
}

type productLineRow struct {
	ProductID string `db:"product_id"`
	Quantity  int    `db:"quantity"`
	UnitPrice string `db:"unit_price"`
	Currency  string `db:"currency"`
}

type serviceLineRow struct {
	ServiceID string `db:"service_id"`
	PetID     string `db:"pet_id"`
	Price     string `db:"price"`
	Currency  string `db:"currency"`
	SourceRef string `db:"source_ref"`
}

const invoiceColumns = `id, customer_id, branch_id, issued_by, issue_date, payment_method, total, currency, created_at`

// Invoice loads one invoice with its lines.
func (s *Invoices) Invoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	defer s.store.readLock()()
	db := s.store.db

	var row invoiceRow
	err := db.GetContext(ctx, &row, db.Rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`), string(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &generic.NotFoundError{Kind: "invoice", ID: string(id)}
		}
		return nil, fmt.Errorf("failed to load invoice %s: %w", id, err)
	}
	return s.withLines(ctx, db, row)
}

// InvoicesByCustomer lists a customer's invoices, newest issue date first.
func (s *Invoices) InvoicesByCustomer(ctx context.Context, customerID billing.CustomerID) ([]billing.Invoice, error) {
	defer s.store.readLock()()
	db := s.store.db

	var rows []invoiceRow
	err := db.SelectContext(ctx, &rows, db.Rebind(`
		SELECT `+invoiceColumns+` FROM invoices
		WHERE customer_id = ?
		ORDER BY issue_date DESC, created_at DESC
	`), string(customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}

	result := make([]billing.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := s.withLines(ctx, db, row)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, nil
}

func (s *Invoices) withLines(ctx context.Context, db *sqlx.DB, row invoiceRow) (*billing.Invoice, error) {
	inv, err := row.toInvoice()
	if err != nil {
		return nil, err
	}

	var products []productLineRow
	err = db.SelectContext(ctx, &products, db.Rebind(`
		SELECT product_id, quantity, unit_price, currency
		FROM invoice_product_lines WHERE invoice_id = ? ORDER BY line_no
	`), row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product lines of %s: %w", row.ID, err)
	}
	for _, p := range products {
		price, err := parseMoney(p.UnitPrice, p.Currency)
		if err != nil {
			return nil, err
		}
		inv.ProductLines = append(inv.ProductLines, billing.ProductLine{
			ProductID: pricing.ProductID(p.ProductID),
			Quantity:  p.Quantity,
			UnitPrice: price,
		})
	}

	var services []serviceLineRow
	err = db.SelectContext(ctx, &services, db.Rebind(`
		SELECT service_id, pet_id, price, currency, source_ref
		FROM invoice_service_lines WHERE invoice_id = ? ORDER BY line_no
	`), row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load service lines of %s: %w", row.ID, err)
	}
	for _, sl := range services {
		price, err := parseMoney(sl.Price, sl.Currency)
		if err != nil {
			return nil, err
		}
		inv.ServiceLines = append(inv.ServiceLines, billing.ServiceLine{
			ServiceID: pricing.ServiceID(sl.ServiceID),
			PetID:     billing.PetID(sl.PetID),
			Price:     price,
			SourceRef: sl.SourceRef,
		})
	}
	return inv, nil
}

func (r invoiceRow) toInvoice() (*billing.Invoice, error) {
	issueDate, err := generic.ParseDate(r.IssueDate)
	if err != nil {
		return nil, err
	}
	total, err := parseMoney(r.Total, r.Currency)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return &billing.Invoice{
		ID:            billing.InvoiceID(r.ID),
		CustomerID:    billing.CustomerID(r.CustomerID),
		BranchID:      staffing.BranchID(r.BranchID),
		IssuedBy:      staffing.EmployeeID(r.IssuedBy),
		IssueDate:     issueDate,
		PaymentMethod: billing.PaymentMethod(r.PaymentMethod),
		Total:         total,
		CreatedAt:     createdAt,
	}, nil
}

func parseMoney(value, currency string) (generic.Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return generic.Money{}, fmt.Errorf("invalid stored amount %q: %w", value, err)
	}
	return generic.NewMoney(d, generic.Currency(currency)), nil
}

// CountInvoices returns the number of invoice headers and line rows. Used by
// tests and health checks to confirm nothing partial was written.
func (s *Invoices) CountInvoices(ctx context.Context) (headers, lines int, err error) {
	defer s.store.readLock()()
	db := s.store.db

	if err := db.GetContext(ctx, &headers, `SELECT COUNT(*) FROM invoices`); err != nil {
		return 0, 0, err
	}
	var products, services int
	if err := db.GetContext(ctx, &products, `SELECT COUNT(*) FROM invoice_product_lines`); err != nil {
		return 0, 0, err
	}
	if err := db.GetContext(ctx, &services, `SELECT COUNT(*) FROM invoice_service_lines`); err != nil {
		return 0, 0, err
	}
	return headers, products + services, nil
}
