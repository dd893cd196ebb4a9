// Package memory provides an in-memory core.TxStore for tests and demos.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps every collection in maps guarded by one lock. WithTx holds the
// write lock for the whole unit of work, so units of work are serialized.
type Store struct {
	mu sync.RWMutex
	d  *data
}

type rowKey struct {
	hotel    core.HotelID
	roomType core.RoomTypeID
	date     calendar.Date
}

type roomTypeKey struct {
	hotel core.HotelID
	id    core.RoomTypeID
}

type data struct {
	roomTypes     map[roomTypeKey]core.RoomType
	rooms         map[core.RoomID]core.Room
	rows          map[rowKey]core.AvailabilityRow
	seasons       map[core.SeasonID]core.Season
	specials      map[core.SeasonID]core.SpecialPeriod
	plans         map[core.RatePlanID]core.RatePlan
	overrides     map[core.OverrideID]core.RateOverride
	companies     map[core.CompanyID]core.Company
	gst           map[string]core.CompanyID
	txs           map[core.TransactionID]core.CreditTransaction
	limitRequests map[core.RequestID]core.CreditLimitRequest
	bookings      map[core.BookingID]core.BookingRef
}

func newData() *data {
	return &data{
		roomTypes:     make(map[roomTypeKey]core.RoomType),
		rooms:         make(map[core.RoomID]core.Room),
		rows:          make(map[rowKey]core.AvailabilityRow),
		seasons:       make(map[core.SeasonID]core.Season),
		specials:      make(map[core.SeasonID]core.SpecialPeriod),
		plans:         make(map[core.RatePlanID]core.RatePlan),
		overrides:     make(map[core.OverrideID]core.RateOverride),
		companies:     make(map[core.CompanyID]core.Company),
		gst:           make(map[string]core.CompanyID),
		txs:           make(map[core.TransactionID]core.CreditTransaction),
		limitRequests: make(map[core.RequestID]core.CreditLimitRequest),
		bookings:      make(map[core.BookingID]core.BookingRef),
	}
}

// snapshot copies the maps. Stored values are cloned on write and never
// mutated in place, so copying the maps is enough to roll back.
func (d *data) snapshot() *data {
	return &data{
		roomTypes:     cloneMap(d.roomTypes),
		rooms:         cloneMap(d.rooms),
		rows:          cloneMap(d.rows),
		seasons:       cloneMap(d.seasons),
		specials:      cloneMap(d.specials),
		plans:         cloneMap(d.plans),
		overrides:     cloneMap(d.overrides),
		companies:     cloneMap(d.companies),
		gst:           cloneMap(d.gst),
		txs:           cloneMap(d.txs),
		limitRequests: cloneMap(d.limitRequests),
		bookings:      cloneMap(d.bookings),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func New() *Store {
	return &Store{d: newData()}
}

func (s *Store) Rooms() core.RoomRepository                 { return s.view() }
func (s *Store) Availability() core.AvailabilityRepository  { return s.view() }
func (s *Store) Seasons() core.SeasonRepository             { return s.view() }
func (s *Store) RatePlans() core.RatePlanRepository         { return s.view() }
func (s *Store) Companies() core.CompanyRepository          { return s.view() }
func (s *Store) Credit() core.CreditRepository              { return s.view() }
func (s *Store) LimitRequests() core.LimitRequestRepository { return s.view() }
func (s *Store) Bookings() core.BookingRepository           { return s.view() }

func (s *Store) view() *view { return &view{s: s} }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := s.d.snapshot()
	if err := fn(&txView{view: view{s: s, inTx: true}}); err != nil {
		s.d = snapshot
		return err
	}
	// A deadline that passed during fn aborts the commit, as a database would.
	if err := ctx.Err(); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

type txView struct{ view }

func (t *txView) Rooms() core.RoomRepository                 { return &t.view }
func (t *txView) Availability() core.AvailabilityRepository  { return &t.view }
func (t *txView) Seasons() core.SeasonRepository             { return &t.view }
func (t *txView) RatePlans() core.RatePlanRepository         { return &t.view }
func (t *txView) Companies() core.CompanyRepository          { return &t.view }
func (t *txView) Credit() core.CreditRepository              { return &t.view }
func (t *txView) LimitRequests() core.LimitRequestRepository { return &t.view }
func (t *txView) Bookings() core.BookingRepository           { return &t.view }

// view implements every repository. Outside a transaction it takes the
// store lock per call; inside WithTx the lock is already held.
type view struct {
	s    *Store
	inTx bool
}

func (v *view) read(fn func(d *data)) {
	if !v.inTx {
		v.s.mu.RLock()
		defer v.s.mu.RUnlock()
	}
	fn(v.s.d)
}

func (v *view) write(fn func(d *data) error) error {
	if !v.inTx {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.d)
}

// =============================================================================
// ROOMS
// =============================================================================

func (v *view) SaveRoomType(_ context.Context, rt core.RoomType) error {
	return v.write(func(d *data) error {
		d.roomTypes[roomTypeKey{rt.HotelID, rt.ID}] = rt
		return nil
	})
}

func (v *view) GetRoomType(_ context.Context, hotel core.HotelID, id core.RoomTypeID) (rt core.RoomType, err error) {
	v.read(func(d *data) {
		var ok bool
		if rt, ok = d.roomTypes[roomTypeKey{hotel, id}]; !ok {
			err = core.NotFoundf("room type %s not found in hotel %s", id, hotel)
		}
	})
	return rt, err
}

func (v *view) ListRoomTypes(_ context.Context, hotel core.HotelID) (out []core.RoomType, _ error) {
	v.read(func(d *data) {
		for k, rt := range d.roomTypes {
			if k.hotel == hotel {
				out = append(out, rt)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.RoomType) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (v *view) SaveRoom(_ context.Context, room core.Room) error {
	return v.write(func(d *data) error {
		d.rooms[room.ID] = room
		return nil
	})
}

func (v *view) GetRoom(_ context.Context, id core.RoomID) (room core.Room, err error) {
	v.read(func(d *data) {
		var ok bool
		if room, ok = d.rooms[id]; !ok {
			err = core.NotFoundf("room %s not found", id)
		}
	})
	return room, err
}

func (v *view) ListRooms(_ context.Context, hotel core.HotelID, roomType core.RoomTypeID) (out []core.Room, _ error) {
	v.read(func(d *data) {
		for _, r := range d.rooms {
			if r.HotelID == hotel && (roomType == "" || r.RoomTypeID == roomType) {
				out = append(out, r)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Room) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func keyOf(row core.AvailabilityRow) rowKey {
	return rowKey{row.HotelID, row.RoomTypeID, row.Date}
}

func (v *view) InsertRow(_ context.Context, row core.AvailabilityRow) error {
	return v.write(func(d *data) error {
		k := keyOf(row)
		if _, exists := d.rows[k]; exists {
			return core.ErrDuplicate
		}
		row.Version = 1
		d.rows[k] = row.Clone()
		return nil
	})
}

func (v *view) UpdateRow(_ context.Context, row core.AvailabilityRow) error {
	return v.write(func(d *data) error {
		k := keyOf(row)
		stored, exists := d.rows[k]
		if !exists {
			return core.NotFoundf("availability row %s/%s/%s not found", row.HotelID, row.RoomTypeID, row.Date)
		}
		if stored.Version != row.Version {
			return core.ErrConcurrentModification
		}
		row.Version++
		d.rows[k] = row.Clone()
		return nil
	})
}

func (v *view) GetRow(_ context.Context, hotel core.HotelID, roomType core.RoomTypeID, date calendar.Date) (row core.AvailabilityRow, err error) {
	v.read(func(d *data) {
		stored, ok := d.rows[rowKey{hotel, roomType, date}]
		if !ok {
			err = core.NotFoundf("no availability row for %s/%s on %s", hotel, roomType, date)
			return
		}
		row = stored.Clone()
	})
	return row, err
}

func (v *view) ListRows(_ context.Context, f core.RowFilter) (out []core.AvailabilityRow, _ error) {
	v.read(func(d *data) {
		for k, row := range d.rows {
			if k.hotel != f.HotelID || (f.RoomTypeID != "" && k.roomType != f.RoomTypeID) {
				continue
			}
			if (!f.From.IsZero() && k.date.Before(f.From)) || (!f.To.IsZero() && k.date.After(f.To)) {
				continue
			}
			out = append(out, row.Clone())
		}
	})
	sortRows(out)
	return out, nil
}

func (v *view) RowsByBooking(_ context.Context, hotel core.HotelID, booking core.BookingID) (out []core.AvailabilityRow, _ error) {
	v.read(func(d *data) {
		for k, row := range d.rows {
			if k.hotel != hotel {
				continue
			}
			if _, ok := row.ReservationFor(booking); ok {
				out = append(out, row.Clone())
			}
		}
	})
	sortRows(out)
	return out, nil
}

func sortRows(rows []core.AvailabilityRow) {
	slices.SortFunc(rows, func(a, b core.AvailabilityRow) int {
		if c := cmp.Compare(a.RoomTypeID, b.RoomTypeID); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})
}

// =============================================================================
// SEASONS
// =============================================================================

func (v *view) SaveSeason(_ context.Context, s core.Season) error {
	return v.write(func(d *data) error {
		s.RateAdjustments = slices.Clone(s.RateAdjustments)
		d.seasons[s.ID] = s
		return nil
	})
}

func (v *view) GetSeason(_ context.Context, id core.SeasonID) (s core.Season, err error) {
	v.read(func(d *data) {
		var ok bool
		if s, ok = d.seasons[id]; !ok {
			err = core.NotFoundf("season %s not found", id)
		}
	})
	return s, err
}

func (v *view) ListSeasons(_ context.Context, hotel core.HotelID) (out []core.Season, _ error) {
	v.read(func(d *data) {
		for _, s := range d.seasons {
			if s.HotelID == hotel {
				out = append(out, s)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Season) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (v *view) SaveSpecialPeriod(_ context.Context, p core.SpecialPeriod) error {
	return v.write(func(d *data) error {
		p.RateAdjustments = slices.Clone(p.RateAdjustments)
		d.specials[p.ID] = p
		return nil
	})
}

func (v *view) GetSpecialPeriod(_ context.Context, id core.SeasonID) (p core.SpecialPeriod, err error) {
	v.read(func(d *data) {
		var ok bool
		if p, ok = d.specials[id]; !ok {
			err = core.NotFoundf("special period %s not found", id)
		}
	})
	return p, err
}

func (v *view) ListSpecialPeriods(_ context.Context, hotel core.HotelID) (out []core.SpecialPeriod, _ error) {
	v.read(func(d *data) {
		for _, p := range d.specials {
			if p.HotelID == hotel {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.SpecialPeriod) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// =============================================================================
// RATE PLANS AND OVERRIDES
// =============================================================================

func (v *view) SavePlan(_ context.Context, p core.RatePlan) error {
	return v.write(func(d *data) error {
		p.BaseRates = slices.Clone(p.BaseRates)
		d.plans[p.ID] = p
		return nil
	})
}

func (v *view) GetPlan(_ context.Context, id core.RatePlanID) (p core.RatePlan, err error) {
	v.read(func(d *data) {
		var ok bool
		if p, ok = d.plans[id]; !ok {
			err = core.NotFoundf("rate plan %s not found", id)
		}
	})
	return p, err
}

func (v *view) ListPlans(_ context.Context, hotel core.HotelID) (out []core.RatePlan, _ error) {
	v.read(func(d *data) {
		for _, p := range d.plans {
			if p.HotelID == hotel {
				out = append(out, p)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.RatePlan) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (v *view) SaveOverride(_ context.Context, o core.RateOverride) error {
	return v.write(func(d *data) error {
		d.overrides[o.ID] = o
		return nil
	})
}

func (v *view) ListOverrides(_ context.Context, hotel core.HotelID, roomType core.RoomTypeID, from, to calendar.Date) (out []core.RateOverride, _ error) {
	v.read(func(d *data) {
		for _, o := range d.overrides {
			if o.HotelID == hotel && (roomType == "" || o.RoomTypeID == roomType) && calendar.IsInRange(o.Date, from, to) {
				out = append(out, o)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.RateOverride) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// =============================================================================
// COMPANIES
// =============================================================================

func (v *view) InsertCompany(_ context.Context, c core.Company) error {
	return v.write(func(d *data) error {
		if _, exists := d.companies[c.ID]; exists {
			return core.ErrDuplicate
		}
		if _, exists := d.gst[c.GSTNumber]; exists {
			return core.ErrDuplicate
		}
		c.Version = 1
		c.HRContacts = slices.Clone(c.HRContacts)
		d.companies[c.ID] = c
		d.gst[c.GSTNumber] = c.ID
		return nil
	})
}

func (v *view) UpdateCompany(_ context.Context, c core.Company) error {
	return v.write(func(d *data) error {
		stored, exists := d.companies[c.ID]
		if !exists {
			return core.NotFoundf("company %s not found", c.ID)
		}
		if stored.Version != c.Version {
			return core.ErrConcurrentModification
		}
		if stored.GSTNumber != c.GSTNumber {
			if owner, taken := d.gst[c.GSTNumber]; taken && owner != c.ID {
				return core.ErrDuplicate
			}
			delete(d.gst, stored.GSTNumber)
			d.gst[c.GSTNumber] = c.ID
		}
		c.Version++
		c.HRContacts = slices.Clone(c.HRContacts)
		d.companies[c.ID] = c
		return nil
	})
}

func (v *view) GetCompany(_ context.Context, id core.CompanyID) (c core.Company, err error) {
	v.read(func(d *data) {
		var ok bool
		if c, ok = d.companies[id]; !ok {
			err = core.NotFoundf("company %s not found", id)
		}
	})
	c.HRContacts = slices.Clone(c.HRContacts)
	return c, err
}

func (v *view) FindCompanyByGST(_ context.Context, gst string) (c core.Company, err error) {
	v.read(func(d *data) {
		id, ok := d.gst[strings.ToUpper(gst)]
		if !ok {
			err = core.NotFoundf("no company with GST number %s", gst)
			return
		}
		c = d.companies[id]
	})
	return c, err
}

func (v *view) ListCompanies(_ context.Context, hotel core.HotelID) (out []core.Company, _ error) {
	v.read(func(d *data) {
		for _, c := range d.companies {
			if hotel == "" || c.HotelID == hotel {
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.Company) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// =============================================================================
// CREDIT JOURNAL
// =============================================================================

func (v *view) InsertTransaction(_ context.Context, t core.CreditTransaction) error {
	return v.write(func(d *data) error {
		if _, exists := d.txs[t.ID]; exists {
			return core.ErrDuplicate
		}
		d.txs[t.ID] = t
		return nil
	})
}

func (v *view) UpdateTransaction(_ context.Context, t core.CreditTransaction) error {
	return v.write(func(d *data) error {
		stored, exists := d.txs[t.ID]
		if !exists {
			return core.NotFoundf("transaction %s not found", t.ID)
		}
		if stored.IsTerminal() {
			return core.Errorf(core.KindStateTransition, "transaction %s is %s and immutable", t.ID, stored.Status)
		}
		d.txs[t.ID] = t
		return nil
	})
}

func (v *view) LinkTransaction(_ context.Context, id, linked core.TransactionID) error {
	return v.write(func(d *data) error {
		stored, exists := d.txs[id]
		if !exists {
			return core.NotFoundf("transaction %s not found", id)
		}
		stored.LinkedTransactionID = linked
		d.txs[id] = stored
		return nil
	})
}

func (v *view) GetTransaction(_ context.Context, id core.TransactionID) (t core.CreditTransaction, err error) {
	v.read(func(d *data) {
		var ok bool
		if t, ok = d.txs[id]; !ok {
			err = core.NotFoundf("transaction %s not found", id)
		}
	})
	return t, err
}

func (v *view) ListTransactions(_ context.Context, f core.CreditFilter) (out []core.CreditTransaction, _ error) {
	v.read(func(d *data) {
		for _, t := range d.txs {
			if matches(t, f) {
				out = append(out, t)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.CreditTransaction) int {
		if c := a.TransactionDate.Compare(b.TransactionDate); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ChainSeq, b.ChainSeq); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func matches(t core.CreditTransaction, f core.CreditFilter) bool {
	switch {
	case f.HotelID != "" && t.HotelID != f.HotelID,
		f.CompanyID != "" && t.CompanyID != f.CompanyID,
		f.BookingID != "" && t.BookingID != f.BookingID,
		len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status),
		len(f.Types) > 0 && !slices.Contains(f.Types, t.Type),
		!f.From.IsZero() && t.TransactionDate.Before(f.From),
		!f.To.IsZero() && !t.TransactionDate.Before(f.To),
		!f.DueBefore.IsZero() && (t.DueDate.IsZero() || !t.DueDate.Before(f.DueBefore)):
		return false
	}
	return true
}

func (v *view) ChainHead(_ context.Context, company core.CompanyID) (head core.CreditTransaction, ok bool, _ error) {
	v.read(func(d *data) {
		for _, t := range d.txs {
			if t.CompanyID != company || t.Status != core.StatusProcessed {
				continue
			}
			if !ok || t.ChainSeq > head.ChainSeq {
				head, ok = t, true
			}
		}
	})
	return head, ok, nil
}

// =============================================================================
// LIMIT REQUESTS AND BOOKINGS
// =============================================================================

func (v *view) SaveLimitRequest(_ context.Context, r core.CreditLimitRequest) error {
	return v.write(func(d *data) error {
		d.limitRequests[r.ID] = r
		return nil
	})
}

func (v *view) GetLimitRequest(_ context.Context, id core.RequestID) (r core.CreditLimitRequest, err error) {
	v.read(func(d *data) {
		var ok bool
		if r, ok = d.limitRequests[id]; !ok {
			err = core.NotFoundf("limit request %s not found", id)
		}
	})
	return r, err
}

func (v *view) ListLimitRequests(_ context.Context, hotel core.HotelID, company core.CompanyID, status core.LimitRequestStatus) (out []core.CreditLimitRequest, _ error) {
	v.read(func(d *data) {
		for _, r := range d.limitRequests {
			if (hotel == "" || r.HotelID == hotel) && (company == "" || r.CompanyID == company) && (status == "" || r.Status == status) {
				out = append(out, r)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.CreditLimitRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (v *view) SaveBooking(_ context.Context, b core.BookingRef) error {
	return v.write(func(d *data) error {
		d.bookings[b.ID] = b
		return nil
	})
}

func (v *view) GetBooking(_ context.Context, id core.BookingID) (b core.BookingRef, err error) {
	v.read(func(d *data) {
		var ok bool
		if b, ok = d.bookings[id]; !ok {
			err = core.NotFoundf("booking %s not found", id)
		}
	})
	return b, err
}

func (v *view) ListBookingsByCompany(_ context.Context, company core.CompanyID, statuses ...core.BookingStatus) (out []core.BookingRef, _ error) {
	v.read(func(d *data) {
		for _, b := range d.bookings {
			if b.CompanyID == company && (len(statuses) == 0 || slices.Contains(statuses, b.Status)) {
				out = append(out, b)
			}
		}
	})
	slices.SortFunc(out, func(a, b core.BookingRef) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}
