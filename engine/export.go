/*
export.go - CSV export of a batch's coupons

Consumer-facing textual export: one header row, one row per coupon of the
batch, in stable code order.
*/
package engine

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

var csvHeader = []string{"Reference", "Code", "Discount Value", "Discount Type", "Points", "Status", "Expiry Date"}

// ExportBatchCSV writes the batch's coupons as CSV.
func ExportBatchCSV(ctx context.Context, s Store, tenantID TenantID, batchID BatchID, w io.Writer) error {
	batch, err := s.GetCouponBatch(ctx, tenantID, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("%w: batch %s", ErrNotFound, batchID)
	}
	coupons, err := s.ListCouponsByBatch(ctx, tenantID, batchID)
	if err != nil {
		return err
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].Code < coupons[j].Code })

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range coupons {
		row := []string{
			string(batch.ID),
			c.Code,
			c.DiscountValue.Value.String(),
			string(c.DiscountType),
			c.CouponPoints.Value.String(),
			string(c.Status),
			c.ExpiryDate.Format("2006-01-02"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
