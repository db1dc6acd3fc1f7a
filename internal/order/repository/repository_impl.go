package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/stagepass/stagepass/internal/order/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) orderdomain.Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, event_id, buyer_id, total_amount, currency, platform, ticket_count,
		        payment_status, processor_payment_ref, marketplace_fee, processor_fee,
		        tax_withholding_a, tax_withholding_b, created_at, updated_at
		 FROM orders
		 WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repository) FindByEvent(ctx context.Context, eventID snowflake.ID, filter orderdomain.ListFilter) ([]orderdomain.Order, error) {
	var orders []orderdomain.Order
	stmt := r.db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("event_id = ?", eventID)

	if filter.PaymentStatus != "" {
		stmt = stmt.Where("payment_status = ?", filter.PaymentStatus)
	}

	if err := stmt.Order("id ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) Create(ctx context.Context, order *orderdomain.Order) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, event_id, buyer_id, total_amount, currency, platform, ticket_count,
			payment_status, processor_payment_ref, marketplace_fee, processor_fee,
			tax_withholding_a, tax_withholding_b, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.EventID,
		order.BuyerID,
		order.TotalAmount,
		order.Currency,
		order.Platform,
		order.TicketCount,
		order.PaymentStatus,
		order.ProcessorPaymentRef,
		order.MarketplaceFee,
		order.ProcessorFee,
		order.TaxWithholdingA,
		order.TaxWithholdingB,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id snowflake.ID, expected, next orderdomain.PaymentStatus) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET payment_status = ?, updated_at = ?
		 WHERE id = ? AND payment_status = ?`,
		next,
		time.Now().UTC(),
		id,
		expected,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return orderdomain.ErrStatusConflict
	}
	return nil
}
