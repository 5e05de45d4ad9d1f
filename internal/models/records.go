package models

import "time"

// TransferRecord is the immutable audit record of one share movement,
// including sentinel mints and burns. Batched transfers produce one record
// per array item, distinguished by ItemIndex.
type TransferRecord struct {
	TxHash      string    `json:"txHash" ch:"tx_hash"`
	LogIndex    uint      `json:"logIndex" ch:"log_index"`
	ItemIndex   int       `json:"itemIndex" ch:"item_index"`
	PropertyID  int64     `json:"propertyId" ch:"property_id"`
	From        string    `json:"from" ch:"from_address"`
	To          string    `json:"to" ch:"to_address"`
	Amount      int64     `json:"amount" ch:"amount"`
	BlockNumber uint64    `json:"blockNumber" ch:"block_number"`
	Timestamp   time.Time `json:"timestamp" ch:"timestamp"`
}

// DepositRecord is the immutable audit record of one rent deposit. Gross,
// fee and net are preserved independently; readers never re-derive one from
// the others.
type DepositRecord struct {
	TxHash      string    `json:"txHash" ch:"tx_hash"`
	LogIndex    uint      `json:"logIndex" ch:"log_index"`
	PropertyID  int64     `json:"propertyId" ch:"property_id"`
	GrossAmount int64     `json:"grossAmount" ch:"gross_amount"`
	FeeAmount   int64     `json:"feeAmount" ch:"fee_amount"`
	NetAmount   int64     `json:"netAmount" ch:"net_amount"`
	BlockNumber uint64    `json:"blockNumber" ch:"block_number"`
	Timestamp   time.Time `json:"timestamp" ch:"timestamp"`
}

// ClaimRecord is the immutable audit record of one reward claim.
type ClaimRecord struct {
	TxHash      string    `json:"txHash" ch:"tx_hash"`
	LogIndex    uint      `json:"logIndex" ch:"log_index"`
	PropertyID  int64     `json:"propertyId" ch:"property_id"`
	Holder      string    `json:"holder" ch:"holder"`
	Amount      int64     `json:"amount" ch:"amount"`
	BlockNumber uint64    `json:"blockNumber" ch:"block_number"`
	Timestamp   time.Time `json:"timestamp" ch:"timestamp"`
}
