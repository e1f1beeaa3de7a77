package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"venuebook/internal/database"
	"venuebook/internal/models"
)

// inactiveStatuses mirrors the conflict detector's exclusion set; the
// conditional insert must agree with it exactly or the two checks drift.
const inactiveStatuses = `('cancelled_by_user', 'cancelled_by_venue', 'cancelled_by_admin', 'rejected', 'failed')`

// SQLite implements Gateway on the embedded SQLite store.
type SQLite struct {
	db *database.DB
}

// NewSQLite creates the SQLite gateway.
func NewSQLite(db *database.DB) *SQLite {
	return &SQLite{db: db}
}

// SaveVenue upserts a venue together with its weekly template and date
// exceptions.
func (s *SQLite) SaveVenue(ctx context.Context, v *models.Venue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO venues (id, name, owner_id, capacity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			capacity = excluded.capacity,
			updated_at = excluded.updated_at`,
		v.ID, v.Name, v.OwnerID, v.Capacity, now, now,
	); err != nil {
		return fmt.Errorf("upsert venue: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM venue_schedules WHERE venue_id = ?", v.ID); err != nil {
		return fmt.Errorf("clear schedules: %w", err)
	}
	for day, avail := range v.Calendar.WeeklyTemplate {
		slots, err := marshalSlots(avail.Slots)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO venue_schedules (venue_id, day_of_week, is_open, open_time, close_time, slots)
			VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID, int(day), avail.IsOpen, avail.OpenTime, avail.CloseTime, slots,
		); err != nil {
			return fmt.Errorf("insert schedule day %d: %w", day, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM venue_exceptions WHERE venue_id = ?", v.ID); err != nil {
		return fmt.Errorf("clear exceptions: %w", err)
	}
	for _, ex := range v.Calendar.Exceptions {
		slots, err := marshalSlots(ex.Slots)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO venue_exceptions (venue_id, date, is_available, reason, slots)
			VALUES (?, ?, ?, ?, ?)`,
			v.ID, ex.Date, ex.IsAvailable, ex.Reason, slots,
		); err != nil {
			return fmt.Errorf("insert exception %s: %w", ex.Date, err)
		}
	}

	return tx.Commit()
}

// GetVenueCalendar assembles the calendar from schedule and exception rows.
func (s *SQLite) GetVenueCalendar(ctx context.Context, venueID string) (*models.VenueCalendar, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM venues WHERE id = ?", venueID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check venue: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("venue %s: %w", venueID, ErrNotFound)
	}

	cal := &models.VenueCalendar{
		WeeklyTemplate: make(map[time.Weekday]models.DayAvailability),
		Exceptions:     make(map[string]models.AvailabilityException),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT day_of_week, is_open, open_time, close_time, slots
		FROM venue_schedules WHERE venue_id = ?`, venueID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var day int
		var avail models.DayAvailability
		var openTime, closeTime, slots sql.NullString
		if err := rows.Scan(&day, &avail.IsOpen, &openTime, &closeTime, &slots); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		avail.OpenTime = openTime.String
		avail.CloseTime = closeTime.String
		if avail.Slots, err = unmarshalSlots(slots); err != nil {
			return nil, err
		}
		cal.WeeklyTemplate[time.Weekday(day)] = avail
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	exRows, err := s.db.QueryContext(ctx, `
		SELECT date, is_available, reason, slots
		FROM venue_exceptions WHERE venue_id = ?`, venueID)
	if err != nil {
		return nil, fmt.Errorf("query exceptions: %w", err)
	}
	defer exRows.Close()
	for exRows.Next() {
		var ex models.AvailabilityException
		var reason, slots sql.NullString
		if err := exRows.Scan(&ex.Date, &ex.IsAvailable, &reason, &slots); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		ex.Reason = reason.String
		if ex.Slots, err = unmarshalSlots(slots); err != nil {
			return nil, err
		}
		cal.Exceptions[ex.Date] = ex
	}
	return cal, exRows.Err()
}

const bookingColumns = `id, venue_id, user_id, date, start_time, end_time, duration,
	total_players, booking_type, court_number, notes, status, payment_id,
	payment_status, base_amount, taxes, fees, discounts, total_amount, currency,
	booking_code, is_recurring, parent_booking_id, cancellation_reason,
	cancellation_time, check_in_time, check_out_time, created_at, updated_at`

// ListActiveBookings returns every booking stored for the venue and date.
// Status filtering stays with the conflict detector.
func (s *SQLite) ListActiveBookings(ctx context.Context, venueID, date string) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE venue_id = ? AND date = ?
		ORDER BY start_time`, venueID, date)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// CreateBooking persists a booking unconditionally.
func (s *SQLite) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := s.db.ExecContext(ctx, insertBookingSQL, insertBookingArgs(b)...)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// CreateBookingIfFree inserts the booking inside a transaction that first
// re-checks for overlapping active bookings. SQLite serializes writers, so
// a successful commit proves no overlapping active booking existed at
// commit time. ErrOverlap means the caller lost the race.
func (s *SQLite) CreateBookingIfFree(ctx context.Context, b *models.Booking) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var overlapping int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE venue_id = ? AND date = ?
		AND start_time < ? AND end_time > ?
		AND status NOT IN `+inactiveStatuses,
		b.VenueID, b.Date, b.EndTime, b.StartTime,
	).Scan(&overlapping)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if overlapping > 0 {
		return ErrOverlap
	}

	if _, err := tx.ExecContext(ctx, insertBookingSQL, insertBookingArgs(b)...); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return tx.Commit()
}

const insertBookingSQL = `
	INSERT INTO bookings (` + bookingColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func insertBookingArgs(b *models.Booking) []any {
	var parentID any
	if b.RecurringLink != nil && b.RecurringLink.ParentBookingID != "" {
		parentID = b.RecurringLink.ParentBookingID
	}
	return []any{
		b.ID, b.VenueID, b.UserID, b.Date, b.StartTime, b.EndTime, b.Duration,
		b.TotalPlayers, b.BookingType, b.CourtNumber, b.Notes, b.Status, b.PaymentID,
		b.PaymentStatus, b.Price.BaseAmount, b.Price.Taxes, b.Price.Fees,
		b.Price.Discounts, b.Price.TotalAmount, b.Price.Currency,
		b.BookingCode, b.IsRecurring, parentID, b.CancellationReason,
		b.CancellationTime, b.CheckInTime, b.CheckOutTime, b.CreatedAt, b.UpdatedAt,
	}
}

// GetBooking returns a booking by ID, with its recurring link resolved.
func (s *SQLite) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	childRows, err := s.db.QueryContext(ctx,
		"SELECT id FROM bookings WHERE parent_booking_id = ? ORDER BY date", id)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer childRows.Close()
	var childIDs []string
	for childRows.Next() {
		var childID string
		if err := childRows.Scan(&childID); err != nil {
			return nil, err
		}
		childIDs = append(childIDs, childID)
	}
	if err := childRows.Err(); err != nil {
		return nil, err
	}
	if len(childIDs) > 0 {
		if b.RecurringLink == nil {
			b.RecurringLink = &models.RecurringLink{}
		}
		b.RecurringLink.ChildBookingIDs = childIDs
	}
	return b, nil
}

// UpdateBookingStatus sets the status and any provided side fields. The
// update is conditional on the stored status still being fromStatus, so
// a transition checked against a stale read fails with ErrStale instead
// of clobbering a newer status.
func (s *SQLite) UpdateBookingStatus(ctx context.Context, id, fromStatus, toStatus string, fields StatusFields) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET
			status = ?,
			cancellation_reason = COALESCE(NULLIF(?, ''), cancellation_reason),
			cancellation_time = COALESCE(?, cancellation_time),
			check_in_time = COALESCE(?, check_in_time),
			check_out_time = COALESCE(?, check_out_time),
			updated_at = ?
		WHERE id = ? AND status = ?`,
		toStatus, fields.CancellationReason, fields.CancellationTime,
		fields.CheckInTime, fields.CheckOutTime, time.Now(), id, fromStatus,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n == 0 {
		// Zero rows means either the booking is gone or its status moved
		// under us; tell those apart for the caller.
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM bookings WHERE id = ?`, id,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("booking %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return fmt.Errorf("booking %s is %s, not %s: %w", id, current, fromStatus, ErrStale)
	}
	return nil
}

// UpdatePaymentStatus sets the payment status and reference.
func (s *SQLite) UpdatePaymentStatus(ctx context.Context, id, paymentStatus, paymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bookings SET
			payment_status = ?,
			payment_id = COALESCE(NULLIF(?, ''), payment_id),
			updated_at = ?
		WHERE id = ?`,
		paymentStatus, paymentID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return requireRow(res, id)
}

// SetRecurringChildren stamps the parent reference on each child row. The
// parent's child list is derived from these references on read.
func (s *SQLite) SetRecurringChildren(ctx context.Context, parentID string, childIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, childID := range childIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE bookings SET parent_booking_id = ?, updated_at = ? WHERE id = ?",
			parentID, time.Now(), childID,
		); err != nil {
			return fmt.Errorf("link child %s: %w", childID, err)
		}
	}
	return tx.Commit()
}

// ListRefunds returns refunds for a booking in creation order.
func (s *SQLite) ListRefunds(ctx context.Context, bookingID string) ([]models.Refund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, amount, reason, created_at
		FROM booking_refunds WHERE booking_id = ? ORDER BY created_at`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query refunds: %w", err)
	}
	defer rows.Close()

	var refunds []models.Refund
	for rows.Next() {
		var r models.Refund
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.BookingID, &r.Amount, &reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		r.Reason = reason.String
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

// AddRefund records a refund.
func (s *SQLite) AddRefund(ctx context.Context, r models.Refund) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_refunds (id, booking_id, amount, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.BookingID, r.Amount, r.Reason, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// ListBookingsByDateRange returns bookings for a venue between from and to
// (inclusive, "YYYY-MM-DD"), ordered by date and start time. Used by the
// audit exporter.
func (s *SQLite) ListBookingsByDateRange(ctx context.Context, venueID, from, to string) ([]models.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE venue_id = ? AND date >= ? AND date <= ?
		ORDER BY date, start_time`, venueID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	return scanBookings(rows)
}

// ListVenueIDs returns all venue IDs.
func (s *SQLite) ListVenueIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM venues ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query venues: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddAuditEntry records an audit trail entry.
func (s *SQLite) AddAuditEntry(ctx context.Context, bookingID, venueID, eventType, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (booking_id, venue_id, event_type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		bookingID, venueID, eventType, detail, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// DeleteOldAuditEntries prunes audit entries older than the duration and
// returns how many were removed. Bookings themselves are never deleted.
func (s *SQLite) DeleteOldAuditEntries(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE created_at < ?", time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return res.RowsAffected()
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var courtNumber, notes, paymentID, parentID, cancelReason sql.NullString
	var cancelTime, checkIn, checkOut sql.NullTime
	err := row.Scan(
		&b.ID, &b.VenueID, &b.UserID, &b.Date, &b.StartTime, &b.EndTime, &b.Duration,
		&b.TotalPlayers, &b.BookingType, &courtNumber, &notes, &b.Status, &paymentID,
		&b.PaymentStatus, &b.Price.BaseAmount, &b.Price.Taxes, &b.Price.Fees,
		&b.Price.Discounts, &b.Price.TotalAmount, &b.Price.Currency,
		&b.BookingCode, &b.IsRecurring, &parentID, &cancelReason,
		&cancelTime, &checkIn, &checkOut, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.CourtNumber = courtNumber.String
	b.Notes = notes.String
	b.PaymentID = paymentID.String
	b.CancellationReason = cancelReason.String
	if parentID.Valid && parentID.String != "" {
		b.RecurringLink = &models.RecurringLink{ParentBookingID: parentID.String}
	}
	if cancelTime.Valid {
		t := cancelTime.Time
		b.CancellationTime = &t
	}
	if checkIn.Valid {
		t := checkIn.Time
		b.CheckInTime = &t
	}
	if checkOut.Valid {
		t := checkOut.Time
		b.CheckOutTime = &t
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]models.Booking, error) {
	var bookings []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func marshalSlots(slots []models.TimeSlot) (string, error) {
	if len(slots) == 0 {
		return "", nil
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return "", fmt.Errorf("marshal slots: %w", err)
	}
	return string(data), nil
}

func unmarshalSlots(raw sql.NullString) ([]models.TimeSlot, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var slots []models.TimeSlot
	if err := json.Unmarshal([]byte(raw.String), &slots); err != nil {
		return nil, fmt.Errorf("unmarshal slots: %w", err)
	}
	return slots, nil
}
