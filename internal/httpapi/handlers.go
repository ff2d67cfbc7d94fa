package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// Handlers serves the admin read-only surface over the live domain store.
// It never mutates state — every route here is a snapshot of what the TCP
// protocol side already owns.
type Handlers struct {
	store    *domain.Store
	sessions *session.Registry
}

// NewHandlers creates the admin HTTP handlers.
func NewHandlers(store *domain.Store, sessions *session.Registry) *Handlers {
	return &Handlers{store: store, sessions: sessions}
}

// HealthCheck returns service liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "auctionhouse",
	})
}

type roomView struct {
	RoomID              int64  `json:"room_id"`
	Name                string `json:"name"`
	Description         string `json:"description"`
	Status              string `json:"status"`
	MaxParticipants     int    `json:"max_participants"`
	CurrentParticipants int    `json:"current_participants"`
	TotalAuctions       int    `json:"total_auctions"`
	CreatorUID          int64  `json:"creator_uid"`
	EndTime             string `json:"end_time"`
}

func newRoomView(r *domain.Room) roomView {
	return roomView{
		RoomID:              r.RoomID,
		Name:                r.Name,
		Description:         r.Description,
		Status:              string(r.Status),
		MaxParticipants:     r.MaxParticipants,
		CurrentParticipants: r.CurrentParticipants,
		TotalAuctions:       r.TotalAuctions,
		CreatorUID:          r.CreatorUID,
		EndTime:             r.EndTime.UTC().Format(http.TimeFormat),
	}
}

// ListRooms returns every room regardless of status.
// Route: GET /v1/rooms
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.store.AllRooms()
	out := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, newRoomView(room))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    out,
	})
}

type auctionView struct {
	AuctionID     int64  `json:"auction_id"`
	RoomID        int64  `json:"room_id"`
	SellerUID     int64  `json:"seller_uid"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	CurrentPrice  string `json:"current_price"`
	BuyNowPrice   string `json:"buy_now_price,omitempty"`
	TotalBids     int    `json:"total_bids"`
	WinnerUID     int64  `json:"winner_uid,omitempty"`
	SettledMethod string `json:"settled_method,omitempty"`
	EndTime       string `json:"end_time"`
}

func newAuctionView(a *domain.Auction) auctionView {
	v := auctionView{
		AuctionID:     a.AuctionID,
		RoomID:        a.RoomID,
		SellerUID:     a.SellerUID,
		Title:         a.Title,
		Status:        string(a.Status),
		CurrentPrice:  domain.FormatMoney(a.CurrentPrice),
		TotalBids:     a.TotalBids,
		WinnerUID:     a.WinnerUID,
		SettledMethod: a.SettledMethod,
		EndTime:       a.EndTime.UTC().Format(http.TimeFormat),
	}
	if !a.BuyNowPrice.IsZero() {
		v.BuyNowPrice = domain.FormatMoney(a.BuyNowPrice)
	}
	return v
}

// ListAuctions returns every auction, optionally filtered by room_id or
// status (active/ended).
// Route: GET /v1/auctions?room_id=&status=
func (h *Handlers) ListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	auctions := h.store.AllAuctions()

	var roomFilter int64
	if s := q.Get("room_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "room_id must be an integer")
			return
		}
		roomFilter = v
	}
	statusFilter := q.Get("status")

	out := make([]auctionView, 0, len(auctions))
	for _, a := range auctions {
		if roomFilter != 0 && a.RoomID != roomFilter {
			continue
		}
		if statusFilter != "" && string(a.Status) != statusFilter {
			continue
		}
		out = append(out, newAuctionView(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    out,
	})
}

// MetricsOverview reports coarse session/room/auction counters, grounded on
// the teacher's GetObservabilitySnapshot shape (slo/debugger windows swapped
// for this domain's own counters).
// Route: GET /v1/metrics/overview
func (h *Handlers) MetricsOverview(w http.ResponseWriter, r *http.Request) {
	rooms := h.store.AllRooms()
	var waiting, active, ended int
	for _, room := range rooms {
		switch room.Status {
		case domain.RoomWaiting:
			waiting++
		case domain.RoomActive:
			active++
		case domain.RoomEnded:
			ended++
		}
	}

	auctions := h.store.AllAuctions()
	var auctionsActive, auctionsEnded, totalBids int
	for _, a := range auctions {
		if a.Status == domain.AuctionActive {
			auctionsActive++
		} else {
			auctionsEnded++
		}
		totalBids += a.TotalBids
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"users":             h.store.UserCount(),
			"sessions_online":   h.sessions.Count(),
			"rooms_waiting":     waiting,
			"rooms_active":      active,
			"rooms_ended":       ended,
			"auctions_active":   auctionsActive,
			"auctions_ended":    auctionsEnded,
			"bids_total":        totalBids,
		},
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]any{"success": false, "error": message})
}
