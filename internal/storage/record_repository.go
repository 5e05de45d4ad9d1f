package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/propshare/share-indexer/internal/models"
)

// RecordRepository appends immutable audit records to ClickHouse. The
// tables are insert-only; exactly-once is provided upstream by the
// idempotency guard, not by constraints here.
type RecordRepository struct {
	db *ClickHouseDB
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *ClickHouseDB) *RecordRepository {
	return &RecordRepository{db: db}
}

// AppendTransfer appends one share movement record.
func (r *RecordRepository) AppendTransfer(ctx context.Context, rec *models.TransferRecord) error {
	query := `
		INSERT INTO transfer_records (
			tx_hash, log_index, item_index, property_id,
			from_address, to_address, amount, block_number, timestamp
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Exec(ctx, query,
		rec.TxHash,
		uint32(rec.LogIndex),
		int32(rec.ItemIndex),
		rec.PropertyID,
		strings.ToLower(rec.From),
		strings.ToLower(rec.To),
		rec.Amount,
		rec.BlockNumber,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append transfer record: %w", err)
	}

	return nil
}

// AppendDeposit appends one rent deposit record.
func (r *RecordRepository) AppendDeposit(ctx context.Context, rec *models.DepositRecord) error {
	query := `
		INSERT INTO deposit_records (
			tx_hash, log_index, property_id,
			gross_amount, fee_amount, net_amount, block_number, timestamp
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Exec(ctx, query,
		rec.TxHash,
		uint32(rec.LogIndex),
		rec.PropertyID,
		rec.GrossAmount,
		rec.FeeAmount,
		rec.NetAmount,
		rec.BlockNumber,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append deposit record: %w", err)
	}

	return nil
}

// AppendClaim appends one reward claim record.
func (r *RecordRepository) AppendClaim(ctx context.Context, rec *models.ClaimRecord) error {
	query := `
		INSERT INTO claim_records (
			tx_hash, log_index, property_id, holder, amount, block_number, timestamp
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := r.db.Exec(ctx, query,
		rec.TxHash,
		uint32(rec.LogIndex),
		rec.PropertyID,
		strings.ToLower(rec.Holder),
		rec.Amount,
		rec.BlockNumber,
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append claim record: %w", err)
	}

	return nil
}

// ListTransfers returns a property's transfer history, newest first.
func (r *RecordRepository) ListTransfers(ctx context.Context, propertyID int64, limit int) ([]*models.TransferRecord, error) {
	query := `
		SELECT tx_hash, log_index, item_index, property_id,
		       from_address, to_address, amount, block_number, timestamp
		FROM transfer_records
		WHERE property_id = ?
		ORDER BY block_number DESC, log_index DESC, item_index DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer records: %w", err)
	}
	defer rows.Close()

	var records []*models.TransferRecord
	for rows.Next() {
		var rec models.TransferRecord
		var logIndex uint32
		var itemIndex int32
		if err := rows.Scan(
			&rec.TxHash,
			&logIndex,
			&itemIndex,
			&rec.PropertyID,
			&rec.From,
			&rec.To,
			&rec.Amount,
			&rec.BlockNumber,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer record: %w", err)
		}
		rec.LogIndex = uint(logIndex)
		rec.ItemIndex = int(itemIndex)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// ListDeposits returns a property's deposit history, newest first.
func (r *RecordRepository) ListDeposits(ctx context.Context, propertyID int64, limit int) ([]*models.DepositRecord, error) {
	query := `
		SELECT tx_hash, log_index, property_id,
		       gross_amount, fee_amount, net_amount, block_number, timestamp
		FROM deposit_records
		WHERE property_id = ?
		ORDER BY block_number DESC, log_index DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deposit records: %w", err)
	}
	defer rows.Close()

	var records []*models.DepositRecord
	for rows.Next() {
		var rec models.DepositRecord
		var logIndex uint32
		if err := rows.Scan(
			&rec.TxHash,
			&logIndex,
			&rec.PropertyID,
			&rec.GrossAmount,
			&rec.FeeAmount,
			&rec.NetAmount,
			&rec.BlockNumber,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deposit record: %w", err)
		}
		rec.LogIndex = uint(logIndex)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// ListClaims returns a holder's claim history in one property, newest
// first. An empty holder returns the whole property's claims.
func (r *RecordRepository) ListClaims(ctx context.Context, propertyID int64, holder string, limit int) ([]*models.ClaimRecord, error) {
	query := `
		SELECT tx_hash, log_index, property_id, holder, amount, block_number, timestamp
		FROM claim_records
		WHERE property_id = ? AND (? = '' OR holder = ?)
		ORDER BY block_number DESC, log_index DESC
		LIMIT ?
	`

	holder = strings.ToLower(holder)
	rows, err := r.db.Conn().Query(ctx, query, propertyID, holder, holder, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim records: %w", err)
	}
	defer rows.Close()

	var records []*models.ClaimRecord
	for rows.Next() {
		var rec models.ClaimRecord
		var logIndex uint32
		if err := rows.Scan(
			&rec.TxHash,
			&logIndex,
			&rec.PropertyID,
			&rec.Holder,
			&rec.Amount,
			&rec.BlockNumber,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan claim record: %w", err)
		}
		rec.LogIndex = uint(logIndex)
		records = append(records, &rec)
	}

	return records, rows.Err()
}
