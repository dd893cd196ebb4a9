package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// ROOMS
// =============================================================================

func (r *repo) SaveRoomType(ctx context.Context, rt core.RoomType) error {
	doc, err := encode(rt)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "room_type", []string{"hotel_id", "id"}, map[string]any{
		"hotel_id": string(rt.HotelID),
		"id":       string(rt.ID),
		"doc":      doc,
	})
}

func (r *repo) GetRoomType(ctx context.Context, hotel core.HotelID, id core.RoomTypeID) (core.RoomType, error) {
	q := r.sb.Select("doc").From("room_type").Where(squirrel.Eq{"hotel_id": string(hotel), "id": string(id)})
	return getDoc[core.RoomType](ctx, r, q, core.NotFoundf("room type %s not found in hotel %s", id, hotel))
}

func (r *repo) ListRoomTypes(ctx context.Context, hotel core.HotelID) ([]core.RoomType, error) {
	q := r.sb.Select("doc").From("room_type").Where(squirrel.Eq{"hotel_id": string(hotel)}).OrderBy("id")
	return listDocs[core.RoomType](ctx, r, q)
}

func (r *repo) SaveRoom(ctx context.Context, room core.Room) error {
	doc, err := encode(room)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "room", []string{"id"}, map[string]any{
		"id":           string(room.ID),
		"hotel_id":     string(room.HotelID),
		"room_type_id": string(room.RoomTypeID),
		"doc":          doc,
	})
}

func (r *repo) GetRoom(ctx context.Context, id core.RoomID) (core.Room, error) {
	q := r.sb.Select("doc").From("room").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.Room](ctx, r, q, core.NotFoundf("room %s not found", id))
}

func (r *repo) ListRooms(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID) ([]core.Room, error) {
	where := squirrel.Eq{"hotel_id": string(hotel)}
	if roomType != "" {
		where["room_type_id"] = string(roomType)
	}
	return listDocs[core.Room](ctx, r, r.sb.Select("doc").From("room").Where(where).OrderBy("id"))
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func rowKeyEq(row core.AvailabilityRow) squirrel.Eq {
	return squirrel.Eq{
		"hotel_id":     string(row.HotelID),
		"room_type_id": string(row.RoomTypeID),
		"date":         row.Date.String(),
	}
}

func (r *repo) InsertRow(ctx context.Context, row core.AvailabilityRow) error {
	row.Version = 1
	doc, err := encode(row)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.sb.Insert("availability_row").SetMap(map[string]any{
		"hotel_id":     string(row.HotelID),
		"room_type_id": string(row.RoomTypeID),
		"date":         row.Date.String(),
		"version":      row.Version,
		"doc":          doc,
	}))
	if err != nil {
		return err
	}
	return r.indexReservations(ctx, row)
}

// UpdateRow writes only when the stored version still equals row.Version.
func (r *repo) UpdateRow(ctx context.Context, row core.AvailabilityRow) error {
	expected := row.Version
	row.Version++
	doc, err := encode(row)
	if err != nil {
		return err
	}
	where := rowKeyEq(row)
	where["version"] = expected
	res, err := r.exec(ctx, r.sb.Update("availability_row").
		Set("version", row.Version).
		Set("doc", doc).
		Where(where))
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetRow(ctx, row.HotelID, row.RoomTypeID, row.Date); err != nil {
			return err
		}
		return core.ErrConcurrentModification
	}
	return r.indexReservations(ctx, row)
}

// indexReservations rewrites the booking index of one row.
func (r *repo) indexReservations(ctx context.Context, row core.AvailabilityRow) error {
	if _, err := r.exec(ctx, r.sb.Delete("availability_booking").Where(rowKeyEq(row))); err != nil {
		return fmt.Errorf("failed to clear reservation index: %w", err)
	}
	if len(row.Reservations) == 0 {
		return nil
	}
	ins := r.sb.Insert("availability_booking").Columns("hotel_id", "room_type_id", "date", "booking_id")
	for _, res := range row.Reservations {
		ins = ins.Values(string(row.HotelID), string(row.RoomTypeID), row.Date.String(), string(res.BookingID))
	}
	if _, err := r.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to index reservations: %w", err)
	}
	return nil
}

func (r *repo) GetRow(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, date calendar.Date) (core.AvailabilityRow, error) {
	q := r.sb.Select("doc").From("availability_row").Where(squirrel.Eq{
		"hotel_id": string(hotel), "room_type_id": string(roomType), "date": date.String(),
	})
	return getDoc[core.AvailabilityRow](ctx, r, q, core.NotFoundf("no availability row for %s/%s on %s", hotel, roomType, date))
}

func (r *repo) ListRows(ctx context.Context, f core.RowFilter) ([]core.AvailabilityRow, error) {
	where := squirrel.And{squirrel.Eq{"hotel_id": string(f.HotelID)}}
	if f.RoomTypeID != "" {
		where = append(where, squirrel.Eq{"room_type_id": string(f.RoomTypeID)})
	}
	if !f.From.IsZero() {
		where = append(where, squirrel.GtOrEq{"date": f.From.String()})
	}
	if !f.To.IsZero() {
		where = append(where, squirrel.LtOrEq{"date": f.To.String()})
	}
	q := r.sb.Select("doc").From("availability_row").Where(where).OrderBy("room_type_id", "date")
	return listDocs[core.AvailabilityRow](ctx, r, q)
}

func (r *repo) RowsByBooking(ctx context.Context, hotel core.HotelID, booking core.BookingID) ([]core.AvailabilityRow, error) {
	q := r.sb.Select("a.doc").From("availability_row a").
		Join("availability_booking b ON b.hotel_id = a.hotel_id AND b.room_type_id = a.room_type_id AND b.date = a.date").
		Where(squirrel.Eq{"b.hotel_id": string(hotel), "b.booking_id": string(booking)}).
		OrderBy("a.room_type_id", "a.date")
	return listDocs[core.AvailabilityRow](ctx, r, q)
}

// =============================================================================
// SEASONS
// =============================================================================

func (r *repo) SaveSeason(ctx context.Context, s core.Season) error {
	return r.saveHotelDoc(ctx, "season", string(s.ID), s.HotelID, s)
}

func (r *repo) GetSeason(ctx context.Context, id core.SeasonID) (core.Season, error) {
	q := r.sb.Select("doc").From("season").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.Season](ctx, r, q, core.NotFoundf("season %s not found", id))
}

func (r *repo) ListSeasons(ctx context.Context, hotel core.HotelID) ([]core.Season, error) {
	return listDocs[core.Season](ctx, r, r.byHotel("season", hotel))
}

func (r *repo) SaveSpecialPeriod(ctx context.Context, p core.SpecialPeriod) error {
	return r.saveHotelDoc(ctx, "special_period", string(p.ID), p.HotelID, p)
}

func (r *repo) GetSpecialPeriod(ctx context.Context, id core.SeasonID) (core.SpecialPeriod, error) {
	q := r.sb.Select("doc").From("special_period").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.SpecialPeriod](ctx, r, q, core.NotFoundf("special period %s not found", id))
}

func (r *repo) ListSpecialPeriods(ctx context.Context, hotel core.HotelID) ([]core.SpecialPeriod, error) {
	return listDocs[core.SpecialPeriod](ctx, r, r.byHotel("special_period", hotel))
}

func (r *repo) saveHotelDoc(ctx context.Context, table, id string, hotel core.HotelID, v any) error {
	doc, err := encode(v)
	if err != nil {
		return err
	}
	return r.upsert(ctx, table, []string{"id"}, map[string]any{
		"id":       id,
		"hotel_id": string(hotel),
		"doc":      doc,
	})
}

func (r *repo) byHotel(table string, hotel core.HotelID) squirrel.SelectBuilder {
	return r.sb.Select("doc").From(table).Where(squirrel.Eq{"hotel_id": string(hotel)}).OrderBy("id")
}

// =============================================================================
// RATE PLANS AND OVERRIDES
// =============================================================================

func (r *repo) SavePlan(ctx context.Context, p core.RatePlan) error {
	return r.saveHotelDoc(ctx, "rate_plan", string(p.ID), p.HotelID, p)
}

func (r *repo) GetPlan(ctx context.Context, id core.RatePlanID) (core.RatePlan, error) {
	q := r.sb.Select("doc").From("rate_plan").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.RatePlan](ctx, r, q, core.NotFoundf("rate plan %s not found", id))
}

func (r *repo) ListPlans(ctx context.Context, hotel core.HotelID) ([]core.RatePlan, error) {
	return listDocs[core.RatePlan](ctx, r, r.byHotel("rate_plan", hotel))
}

func (r *repo) SaveOverride(ctx context.Context, o core.RateOverride) error {
	doc, err := encode(o)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "rate_override", []string{"id"}, map[string]any{
		"id":           string(o.ID),
		"hotel_id":     string(o.HotelID),
		"room_type_id": string(o.RoomTypeID),
		"date":         o.Date.String(),
		"doc":          doc,
	})
}

func (r *repo) ListOverrides(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, from, to calendar.Date) ([]core.RateOverride, error) {
	where := squirrel.And{
		squirrel.Eq{"hotel_id": string(hotel)},
		squirrel.GtOrEq{"date": from.String()},
		squirrel.LtOrEq{"date": to.String()},
	}
	if roomType != "" {
		where = append(where, squirrel.Eq{"room_type_id": string(roomType)})
	}
	q := r.sb.Select("doc").From("rate_override").Where(where).OrderBy("date", "id")
	return listDocs[core.RateOverride](ctx, r, q)
}

// =============================================================================
// COMPANIES
// =============================================================================

func (r *repo) InsertCompany(ctx context.Context, c core.Company) error {
	c.Version = 1
	doc, err := encode(c)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.sb.Insert("corporate_company").SetMap(map[string]any{
		"id":         string(c.ID),
		"hotel_id":   string(c.HotelID),
		"gst_number": c.GSTNumber,
		"version":    c.Version,
		"doc":        doc,
	}))
	return err
}

func (r *repo) UpdateCompany(ctx context.Context, c core.Company) error {
	expected := c.Version
	c.Version++
	doc, err := encode(c)
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, r.sb.Update("corporate_company").
		Set("gst_number", c.GSTNumber).
		Set("version", c.Version).
		Set("doc", doc).
		Where(squirrel.Eq{"id": string(c.ID), "version": expected}))
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.GetCompany(ctx, c.ID); err != nil {
			return err
		}
		return core.ErrConcurrentModification
	}
	return nil
}

func (r *repo) GetCompany(ctx context.Context, id core.CompanyID) (core.Company, error) {
	q := r.sb.Select("doc").From("corporate_company").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.Company](ctx, r, q, core.NotFoundf("company %s not found", id))
}

func (r *repo) FindCompanyByGST(ctx context.Context, gst string) (core.Company, error) {
	q := r.sb.Select("doc").From("corporate_company").Where(squirrel.Eq{"gst_number": strings.ToUpper(gst)})
	return getDoc[core.Company](ctx, r, q, core.NotFoundf("no company with GST number %s", gst))
}

func (r *repo) ListCompanies(ctx context.Context, hotel core.HotelID) ([]core.Company, error) {
	q := r.sb.Select("doc").From("corporate_company").OrderBy("id")
	if hotel != "" {
		q = q.Where(squirrel.Eq{"hotel_id": string(hotel)})
	}
	return listDocs[core.Company](ctx, r, q)
}

// =============================================================================
// CREDIT JOURNAL
// =============================================================================

func txColumns(t core.CreditTransaction) (map[string]any, error) {
	doc, err := encode(t)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":               string(t.ID),
		"hotel_id":         string(t.HotelID),
		"company_id":       string(t.CompanyID),
		"booking_id":       string(t.BookingID),
		"tx_type":          string(t.Type),
		"status":           string(t.Status),
		"transaction_date": formatTime(t.TransactionDate),
		"due_date":         t.DueDate.String(),
		"chain_seq":        t.ChainSeq,
		"doc":              doc,
	}, nil
}

func (r *repo) InsertTransaction(ctx context.Context, t core.CreditTransaction) error {
	cols, err := txColumns(t)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.sb.Insert("credit_transaction").SetMap(cols))
	return err
}

// UpdateTransaction only touches records that are still pending or approved.
func (r *repo) UpdateTransaction(ctx context.Context, t core.CreditTransaction) error {
	cols, err := txColumns(t)
	if err != nil {
		return err
	}
	delete(cols, "id")
	res, err := r.exec(ctx, r.sb.Update("credit_transaction").SetMap(cols).Where(squirrel.Eq{
		"id":     string(t.ID),
		"status": []string{string(core.StatusPending), string(core.StatusApproved)},
	}))
	if err != nil {
		return err
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		stored, err := r.GetTransaction(ctx, t.ID)
		if err != nil {
			return err
		}
		return core.Errorf(core.KindStateTransition, "transaction %s is %s and immutable", t.ID, stored.Status)
	}
	return nil
}

func (r *repo) LinkTransaction(ctx context.Context, id, linked core.TransactionID) error {
	t, err := r.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	t.LinkedTransactionID = linked
	doc, err := encode(t)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, r.sb.Update("credit_transaction").Set("doc", doc).Where(squirrel.Eq{"id": string(id)}))
	return err
}

func (r *repo) GetTransaction(ctx context.Context, id core.TransactionID) (core.CreditTransaction, error) {
	q := r.sb.Select("doc").From("credit_transaction").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.CreditTransaction](ctx, r, q, core.NotFoundf("transaction %s not found", id))
}

func (r *repo) ListTransactions(ctx context.Context, f core.CreditFilter) ([]core.CreditTransaction, error) {
	where := squirrel.And{}
	eq := squirrel.Eq{}
	if f.HotelID != "" {
		eq["hotel_id"] = string(f.HotelID)
	}
	if f.CompanyID != "" {
		eq["company_id"] = string(f.CompanyID)
	}
	if f.BookingID != "" {
		eq["booking_id"] = string(f.BookingID)
	}
	if len(f.Statuses) > 0 {
		eq["status"] = toStrings(f.Statuses)
	}
	if len(f.Types) > 0 {
		eq["tx_type"] = toStrings(f.Types)
	}
	if len(eq) > 0 {
		where = append(where, eq)
	}
	if !f.From.IsZero() {
		where = append(where, squirrel.GtOrEq{"transaction_date": formatTime(f.From)})
	}
	if !f.To.IsZero() {
		where = append(where, squirrel.Lt{"transaction_date": formatTime(f.To)})
	}
	if !f.DueBefore.IsZero() {
		where = append(where, squirrel.NotEq{"due_date": ""}, squirrel.Lt{"due_date": f.DueBefore.String()})
	}
	q := r.sb.Select("doc").From("credit_transaction").OrderBy("transaction_date", "chain_seq", "id")
	if len(where) > 0 {
		q = q.Where(where)
	}
	return listDocs[core.CreditTransaction](ctx, r, q)
}

func (r *repo) ChainHead(ctx context.Context, company core.CompanyID) (core.CreditTransaction, bool, error) {
	q := r.sb.Select("doc").From("credit_transaction").
		Where(squirrel.Eq{"company_id": string(company), "status": string(core.StatusProcessed)}).
		OrderBy("chain_seq DESC").
		Limit(1)
	rows, err := listDocs[core.CreditTransaction](ctx, r, q)
	if err != nil || len(rows) == 0 {
		return core.CreditTransaction{}, false, err
	}
	return rows[0], true, nil
}

func toStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// =============================================================================
// LIMIT REQUESTS AND BOOKINGS
// =============================================================================

func (r *repo) SaveLimitRequest(ctx context.Context, lr core.CreditLimitRequest) error {
	doc, err := encode(lr)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "credit_limit_request", []string{"id"}, map[string]any{
		"id":         string(lr.ID),
		"hotel_id":   string(lr.HotelID),
		"company_id": string(lr.CompanyID),
		"status":     string(lr.Status),
		"created_at": formatTime(lr.CreatedAt),
		"doc":        doc,
	})
}

func (r *repo) GetLimitRequest(ctx context.Context, id core.RequestID) (core.CreditLimitRequest, error) {
	q := r.sb.Select("doc").From("credit_limit_request").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.CreditLimitRequest](ctx, r, q, core.NotFoundf("limit request %s not found", id))
}

func (r *repo) ListLimitRequests(ctx context.Context, hotel core.HotelID, company core.CompanyID, status core.LimitRequestStatus) ([]core.CreditLimitRequest, error) {
	eq := squirrel.Eq{}
	if hotel != "" {
		eq["hotel_id"] = string(hotel)
	}
	if company != "" {
		eq["company_id"] = string(company)
	}
	if status != "" {
		eq["status"] = string(status)
	}
	q := r.sb.Select("doc").From("credit_limit_request").OrderBy("created_at", "id")
	if len(eq) > 0 {
		q = q.Where(eq)
	}
	return listDocs[core.CreditLimitRequest](ctx, r, q)
}

func (r *repo) SaveBooking(ctx context.Context, b core.BookingRef) error {
	doc, err := encode(b)
	if err != nil {
		return err
	}
	return r.upsert(ctx, "booking_ref", []string{"id"}, map[string]any{
		"id":         string(b.ID),
		"hotel_id":   string(b.HotelID),
		"company_id": string(b.CompanyID),
		"status":     string(b.Status),
		"doc":        doc,
	})
}

func (r *repo) GetBooking(ctx context.Context, id core.BookingID) (core.BookingRef, error) {
	q := r.sb.Select("doc").From("booking_ref").Where(squirrel.Eq{"id": string(id)})
	return getDoc[core.BookingRef](ctx, r, q, core.NotFoundf("booking %s not found", id))
}

func (r *repo) ListBookingsByCompany(ctx context.Context, company core.CompanyID, statuses ...core.BookingStatus) ([]core.BookingRef, error) {
	eq := squirrel.Eq{"company_id": string(company)}
	if len(statuses) > 0 {
		eq["status"] = toStrings(statuses)
	}
	q := r.sb.Select("doc").From("booking_ref").Where(eq).OrderBy("id")
	return listDocs[core.BookingRef](ctx, r, q)
}
