// Package export renders the catalog and ledger as an Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tealeg/xlsx/v3"

	"github.com/warp/stock-ledger/inventory"
)

const (
	ProductsSheet     = "Products"
	TransactionsSheet = "Transactions"

	dateLayout = "2006-01-02 15:04:05"
)

var (
	productHeaders     = []string{"ID", "Name", "Quantity", "Unit Price", "Total Value", "Updated At"}
	transactionHeaders = []string{"ID", "Product ID", "Product", "Kind", "Quantity", "Balance", "Reason", "Date"}
)

// WriteWorkbook writes a workbook with one sheet for the catalog and one for
// the full transaction history.
func WriteWorkbook(ctx context.Context, inv *inventory.Inventory, w io.Writer) error {
	products, err := inv.Catalog.List(ctx)
	if err != nil {
		return err
	}
	history, err := inv.Ledger.History(ctx)
	if err != nil {
		return err
	}

	file := xlsx.NewFile()

	sheet, err := file.AddSheet(ProductsSheet)
	if err != nil {
		return fmt.Errorf("failed to add worksheet: %w", err)
	}
	addHeader(sheet, productHeaders)
	names := make(map[inventory.ProductID]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
		addRow(sheet,
			strconv.FormatInt(int64(p.ID), 10),
			p.Name,
			strconv.FormatInt(p.Quantity, 10),
			p.Price.StringFixed(2),
			p.TotalValue().StringFixed(2),
			formatTime(p.UpdatedAt),
		)
	}

	sheet, err = file.AddSheet(TransactionsSheet)
	if err != nil {
		return fmt.Errorf("failed to add worksheet: %w", err)
	}
	addHeader(sheet, transactionHeaders)
	for _, tx := range history {
		addRow(sheet,
			strconv.FormatInt(int64(tx.ID), 10),
			strconv.FormatInt(int64(tx.ProductID), 10),
			names[tx.ProductID],
			string(tx.Kind),
			strconv.FormatInt(tx.Quantity, 10),
			strconv.FormatInt(tx.Balance, 10),
			tx.Reason,
			formatTime(tx.CreatedAt),
		)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, headers []string) {
	row := sheet.AddRow()
	for _, h := range headers {
		cell := row.AddCell()
		cell.Value = h
		cell.GetStyle().Font.Bold = true
	}
	sheet.SetColWidth(1, len(headers), 15)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
