package workflow

import (
	"promoflow/internal/activity"
	"promoflow/pkg/contracts/domain"
)

// Store holds one session's datasets and selections. It is not safe for
// concurrent use; Session serializes access. Every mutating method appends
// exactly one activity log entry.
type Store struct {
	log *activity.Log

	raw       *domain.Dataset
	fileInfo  *domain.FileInfo
	validated *domain.Dataset
	market    string

	confirmed       *domain.Dataset
	confirmedMarket string

	pushCompleted bool
	lastUpload    *domain.UploadResult
}

// NewStore creates an empty store writing to log
func NewStore(log *activity.Log) *Store {
	return &Store{log: log}
}

// StoreRaw replaces the raw dataset and drops everything derived from it
func (s *Store) StoreRaw(ds *domain.Dataset, info domain.FileInfo) {
	s.raw = ds.Clone()
	s.fileInfo = &info
	s.validated = nil
	s.clearConfirmation()
	s.log.Infof("Stored original data: %d rows, %d columns", s.raw.RowCount(), s.raw.ColumnCount())
}

// StoreValidated replaces the validated dataset and drops the confirmation
func (s *Store) StoreValidated(ds *domain.Dataset) {
	s.validated = ds.Clone()
	s.clearConfirmation()
	s.log.Infof("Stored validation results")
}

// StoreConfirmed records the confirmed subset for market
func (s *Store) StoreConfirmed(ds *domain.Dataset, market string) {
	s.confirmed = ds.Clone()
	s.confirmedMarket = market
	s.log.Infof("Confirmed data for country: %s (%d rows)", market, s.confirmed.RowCount())
}

// SetMarket changes the selected market. It reports whether the value
// changed; an unchanged value logs nothing.
func (s *Store) SetMarket(market string) bool {
	if market == s.market {
		return false
	}
	s.market = market
	s.clearConfirmation()
	if market == "" {
		s.log.Infof("Country selection cleared")
	} else {
		s.log.Infof("Country set to: %s", market)
	}
	return true
}

// DiscardConfirmed drops the confirmed subset, keeping the validated data
// and the market
func (s *Store) DiscardConfirmed() {
	s.clearConfirmation()
	s.log.Infof("Data push cancelled, confirmation discarded")
}

// RejectMarket clears the selection after an unknown market was chosen
func (s *Store) RejectMarket(input string) {
	if s.market != "" {
		s.market = ""
		s.clearConfirmation()
	}
	s.log.Warnf("Unknown country %q ignored, selection cleared", input)
}

// MarkPushCompleted records a successful upload
func (s *Store) MarkPushCompleted(result domain.UploadResult) {
	s.pushCompleted = true
	s.lastUpload = &result
	s.log.Infof("Upload completed successfully for table: %s", result.TableName)
}

// ClearAll resets the store to its empty state
func (s *Store) ClearAll() {
	*s = Store{log: s.log}
	s.log.Infof("Cleared all session data")
}

func (s *Store) clearConfirmation() {
	s.confirmed = nil
	s.confirmedMarket = ""
	s.pushCompleted = false
	s.lastUpload = nil
}

// Raw returns the uploaded dataset or nil
func (s *Store) Raw() *domain.Dataset { return s.raw }

// FileInfo returns the uploaded file metadata or nil
func (s *Store) FileInfo() *domain.FileInfo { return s.fileInfo }

// Validated returns the validated dataset or nil
func (s *Store) Validated() *domain.Dataset { return s.validated }

// Market returns the selected market, "" when none
func (s *Store) Market() string { return s.market }

// Confirmed returns the confirmed subset or nil
func (s *Store) Confirmed() *domain.Dataset { return s.confirmed }

// ConfirmedMarket returns the market the subset was confirmed for
func (s *Store) ConfirmedMarket() string { return s.confirmedMarket }

// PushCompleted reports whether the confirmed subset was uploaded
func (s *Store) PushCompleted() bool { return s.pushCompleted }

// LastUpload returns the successful upload result, if any
func (s *Store) LastUpload() *domain.UploadResult { return s.lastUpload }

// IsValidationComplete reports whether a validated dataset is present
func (s *Store) IsValidationComplete() bool { return s.validated != nil }

// IsConfirmationComplete reports whether a confirmed subset is present
func (s *Store) IsConfirmationComplete() bool { return s.confirmed != nil }

// IsNewFile reports whether info names a different file than the one stored
func (s *Store) IsNewFile(info domain.FileInfo) bool {
	return s.raw == nil || s.fileInfo == nil || s.fileInfo.Name != info.Name
}
