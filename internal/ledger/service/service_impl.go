package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/stagepass/stagepass/internal/ledger/domain"
	obsmetrics "github.com/stagepass/stagepass/internal/observability/metrics"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateEntry(
	ctx context.Context,
	sourceType ledgerdomain.LedgerSourceType,
	sourceID snowflake.ID,
	currency string,
	occurredAt time.Time,
	lines []ledgerdomain.LedgerEntryLine,
) error {
	if strings.TrimSpace(string(sourceType)) == "" {
		return ledgerdomain.ErrInvalidSourceType
	}
	if sourceID == 0 {
		return ledgerdomain.ErrInvalidSourceID
	}

	currency = strings.TrimSpace(currency)
	if currency == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	if occurredAt.IsZero() {
		return ledgerdomain.ErrInvalidOccurredAt
	}
	if len(lines) < 2 {
		return ledgerdomain.ErrInvalidEntryLines
	}

	normalized := make([]ledgerdomain.LedgerEntryLine, 0, len(lines))
	for _, line := range lines {
		if line.AccountID == 0 {
			return ledgerdomain.ErrInvalidAccount
		}
		direction, err := normalizeDirection(line.Direction)
		if err != nil {
			return err
		}
		if line.Amount < 0 {
			return ledgerdomain.ErrInvalidLineAmount
		}
		normalized = append(normalized, ledgerdomain.LedgerEntryLine{
			AccountID: line.AccountID,
			Direction: direction,
			Amount:    line.Amount,
		})
	}

	if err := ledgerdomain.ValidateBalanced(normalized); err != nil {
		return err
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entryID := s.genID.Generate()
		now := time.Now().UTC()
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, source_type, source_id, currency, occurred_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (source_type, source_id) DO NOTHING`,
			entryID,
			sourceType,
			sourceID,
			currency,
			occurredAt.UTC(),
			now,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		inserted = true

		for _, line := range normalized {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO ledger_entry_lines (
					id, ledger_entry_id, account_id, direction, amount, created_at
				) VALUES (?, ?, ?, ?, ?, ?)`,
				s.genID.Generate(),
				entryID,
				line.AccountID,
				string(line.Direction),
				line.Amount,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if inserted && s.obsMetrics != nil {
		s.obsMetrics.RecordLedgerEntry(string(sourceType))
	}
	return nil
}

// PostRefund posts the two-line reversal for a settled refund: ticket
// revenue is debited back and cash is credited out. The organization
// absorbs the original fees, so the full gross amount moves.
func (s *Service) PostRefund(
	ctx context.Context,
	sourceType ledgerdomain.LedgerSourceType,
	refundID snowflake.ID,
	amount int64,
	currency string,
	occurredAt time.Time,
) error {
	if amount <= 0 {
		return ledgerdomain.ErrInvalidLineAmount
	}

	revenue, err := s.ensureAccount(ctx, ledgerdomain.AccountCodeTicketRevenue, "Ticket revenue")
	if err != nil {
		return err
	}
	cash, err := s.ensureAccount(ctx, ledgerdomain.AccountCodeCash, "Cash")
	if err != nil {
		return err
	}

	return s.CreateEntry(ctx, sourceType, refundID, currency, occurredAt, []ledgerdomain.LedgerEntryLine{
		{AccountID: revenue.ID, Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: amount},
		{AccountID: cash.ID, Direction: ledgerdomain.LedgerEntryDirectionCredit, Amount: amount},
	})
}

func (s *Service) ensureAccount(ctx context.Context, code ledgerdomain.LedgerAccountCode, name string) (ledgerdomain.LedgerAccount, error) {
	if err := s.db.WithContext(ctx).Exec(
		`INSERT INTO ledger_accounts (id, code, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		s.genID.Generate(),
		code,
		name,
		time.Now().UTC(),
	).Error; err != nil {
		return ledgerdomain.LedgerAccount{}, err
	}

	var account ledgerdomain.LedgerAccount
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, code, name, created_at FROM ledger_accounts WHERE code = ?`,
		code,
	).Scan(&account).Error; err != nil {
		return ledgerdomain.LedgerAccount{}, err
	}
	if account.ID == 0 {
		return ledgerdomain.LedgerAccount{}, ledgerdomain.ErrInvalidAccount
	}
	return account, nil
}

func normalizeDirection(direction ledgerdomain.LedgerEntryDirection) (ledgerdomain.LedgerEntryDirection, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(direction)))
	switch normalized {
	case string(ledgerdomain.LedgerEntryDirectionDebit):
		return ledgerdomain.LedgerEntryDirectionDebit, nil
	case string(ledgerdomain.LedgerEntryDirectionCredit):
		return ledgerdomain.LedgerEntryDirectionCredit, nil
	default:
		return "", ledgerdomain.ErrInvalidLineDirection
	}
}
