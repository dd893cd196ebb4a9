package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/hotel-core/calendar"
	"github.com/warp/hotel-core/core"
)

// =============================================================================
// OCCUPANCY - Derived from ledger rows only
// =============================================================================

type DailyOccupancy struct {
	Date      calendar.Date   `json:"date"`
	Total     int             `json:"totalRooms"`
	Sold      int             `json:"soldRooms"`
	Blocked   int             `json:"blockedRooms"`
	Available int             `json:"availableRooms"`
	Rate      decimal.Decimal `json:"occupancyRate"`
}

type OccupancyReport struct {
	HotelID           core.HotelID     `json:"hotelId"`
	Start             calendar.Date    `json:"start"`
	End               calendar.Date    `json:"end"`
	TotalRoomNights   int              `json:"totalRoomNights"`
	SoldRoomNights    int              `json:"soldRoomNights"`
	BlockedRoomNights int              `json:"blockedRoomNights"`
	OccupancyRate     decimal.Decimal  `json:"occupancyRate"`
	Daily             []DailyOccupancy `json:"daily"`
}

// percentOf returns part/whole in percent rounded to 2 places; 0 when whole is 0.
func percentOf(part, whole int) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(core.Hundred).Div(decimal.NewFromInt(int64(whole))).Round(2)
}

// Occupancy sums every room type of the hotel over the nights [start, end).
// Rates are sold/total in percent.
func (l *Ledger) Occupancy(ctx context.Context, hotel core.HotelID, start, end calendar.Date) (OccupancyReport, error) {
	return l.occupancy(ctx, hotel, "", start, end)
}

// RoomTypeOccupancy is Occupancy restricted to one room type.
func (l *Ledger) RoomTypeOccupancy(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, start, end calendar.Date) (OccupancyReport, error) {
	return l.occupancy(ctx, hotel, roomType, start, end)
}

func (l *Ledger) occupancy(ctx context.Context, hotel core.HotelID, roomType core.RoomTypeID, start, end calendar.Date) (OccupancyReport, error) {
	if !end.After(start) {
		return OccupancyReport{}, core.Validationf("end %s must be after start %s", end, start)
	}
	rows, err := l.Store.Availability().ListRows(ctx, core.RowFilter{
		HotelID: hotel, RoomTypeID: roomType, From: start, To: end.AddDays(-1),
	})
	if err != nil {
		return OccupancyReport{}, fmt.Errorf("loading rows: %w", err)
	}

	byDate := make(map[calendar.Date]*DailyOccupancy)
	rep := OccupancyReport{HotelID: hotel, Start: start, End: end}
	for _, row := range rows {
		day, ok := byDate[row.Date]
		if !ok {
			day = &DailyOccupancy{Date: row.Date}
			byDate[row.Date] = day
		}
		day.Total += row.TotalRooms
		day.Sold += row.SoldRooms
		day.Blocked += row.BlockedRooms
		day.Available += row.AvailableRooms
		rep.TotalRoomNights += row.TotalRooms
		rep.SoldRoomNights += row.SoldRooms
		rep.BlockedRoomNights += row.BlockedRooms
	}
	for _, d := range calendar.NightsBetween(start, end) {
		day, ok := byDate[d]
		if !ok {
			continue
		}
		day.Rate = percentOf(day.Sold, day.Total)
		rep.Daily = append(rep.Daily, *day)
	}
	rep.OccupancyRate = percentOf(rep.SoldRoomNights, rep.TotalRoomNights)
	return rep, nil
}

// =============================================================================
// SUMMARY - Per room type revenue view
// =============================================================================

type RoomTypeSummary struct {
	RoomTypeID        core.RoomTypeID `json:"roomTypeId"`
	TotalRoomNights   int             `json:"totalRoomNights"`
	SoldRoomNights    int             `json:"soldRoomNights"`
	BlockedRoomNights int             `json:"blockedRoomNights"`
	AvailableNights   int             `json:"availableRoomNights"`
	Revenue           decimal.Decimal `json:"revenue"`
	ADR               decimal.Decimal `json:"adr"`
	RevPAR            decimal.Decimal `json:"revpar"`
	OccupancyRate     decimal.Decimal `json:"occupancyRate"`
}

type Summary struct {
	HotelID   core.HotelID      `json:"hotelId"`
	Start     calendar.Date     `json:"start"`
	End       calendar.Date     `json:"end"`
	RoomTypes []RoomTypeSummary `json:"roomTypes"`
	Totals    RoomTypeSummary   `json:"totals"`
}

// Summary estimates revenue as Σ soldRooms × sellingRate. ADR divides it by
// sold room-nights and RevPAR by total room-nights.
func (l *Ledger) Summary(ctx context.Context, hotel core.HotelID, start, end calendar.Date) (Summary, error) {
	if !end.After(start) {
		return Summary{}, core.Validationf("end %s must be after start %s", end, start)
	}
	rows, err := l.Store.Availability().ListRows(ctx, core.RowFilter{HotelID: hotel, From: start, To: end.AddDays(-1)})
	if err != nil {
		return Summary{}, fmt.Errorf("loading rows: %w", err)
	}

	byType := make(map[core.RoomTypeID]*RoomTypeSummary)
	totals := RoomTypeSummary{Revenue: decimal.Zero}
	for _, row := range rows {
		s, ok := byType[row.RoomTypeID]
		if !ok {
			s = &RoomTypeSummary{RoomTypeID: row.RoomTypeID, Revenue: decimal.Zero}
			byType[row.RoomTypeID] = s
		}
		revenue := row.SellingRate.Mul(decimal.NewFromInt(int64(row.SoldRooms)))
		for _, acc := range []*RoomTypeSummary{s, &totals} {
			acc.TotalRoomNights += row.TotalRooms
			acc.SoldRoomNights += row.SoldRooms
			acc.BlockedRoomNights += row.BlockedRooms
			acc.AvailableNights += row.AvailableRooms
			acc.Revenue = acc.Revenue.Add(revenue)
		}
	}

	out := Summary{HotelID: hotel, Start: start, End: end, RoomTypes: make([]RoomTypeSummary, 0, len(byType))}
	for _, s := range byType {
		out.RoomTypes = append(out.RoomTypes, s.finish())
	}
	sort.Slice(out.RoomTypes, func(i, j int) bool { return out.RoomTypes[i].RoomTypeID < out.RoomTypes[j].RoomTypeID })
	out.Totals = totals.finish()
	return out, nil
}

func (s RoomTypeSummary) finish() RoomTypeSummary {
	s.ADR, s.RevPAR = decimal.Zero, decimal.Zero
	if s.SoldRoomNights > 0 {
		s.ADR = s.Revenue.Div(decimal.NewFromInt(int64(s.SoldRoomNights))).Round(2)
	}
	if s.TotalRoomNights > 0 {
		s.RevPAR = s.Revenue.Div(decimal.NewFromInt(int64(s.TotalRoomNights))).Round(2)
	}
	s.OccupancyRate = percentOf(s.SoldRoomNights, s.TotalRoomNights)
	return s
}

// =============================================================================
// OVERBOOKING DETECTION - Report only, never repairs
// =============================================================================

type OverbookingFinding struct {
	RoomTypeID     core.RoomTypeID `json:"roomTypeId"`
	Date           calendar.Date   `json:"date"`
	Problem        string          `json:"problem"`
	TotalRooms     int             `json:"totalRooms"`
	SoldRooms      int             `json:"soldRooms"`
	BlockedRooms   int             `json:"blockedRooms"`
	AvailableRooms int             `json:"availableRooms"`
	Reserved       int             `json:"reserved"`
}

// DetectOverbooking scans rows left inconsistent by manual edits. A zero
// date scans every date; an empty room type scans every room type.
func (l *Ledger) DetectOverbooking(ctx context.Context, hotel core.HotelID, date calendar.Date, roomType core.RoomTypeID) ([]OverbookingFinding, error) {
	rows, err := l.Store.Availability().ListRows(ctx, core.RowFilter{HotelID: hotel, RoomTypeID: roomType, From: date, To: date})
	if err != nil {
		return nil, fmt.Errorf("loading rows: %w", err)
	}
	findings := []OverbookingFinding{}
	for _, row := range rows {
		if err := row.CheckInvariants(); err != nil {
			findings = append(findings, OverbookingFinding{
				RoomTypeID:     row.RoomTypeID,
				Date:           row.Date,
				Problem:        err.Error(),
				TotalRooms:     row.TotalRooms,
				SoldRooms:      row.SoldRooms,
				BlockedRooms:   row.BlockedRooms,
				AvailableRooms: row.AvailableRooms,
				Reserved:       row.ReservedSum(),
			})
		}
	}
	if len(findings) > 0 {
		l.Log.Warn().Str("hotel", string(hotel)).Int("findings", len(findings)).Msg("inconsistent availability rows detected")
	}
	return findings, nil
}
