package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rivalapexmediation/auctionhouse/internal/domain"
)

// PrometheusHandler exposes the same counters as MetricsOverview in
// Prometheus text exposition format, grounded on the teacher's
// bidders.PrometheusMetricsHandler. Opt-in: only mounted when
// PROM_EXPORTER_ENABLED is set, exactly as the teacher gates it in
// cmd/main.go.
func (h *Handlers) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		rooms := h.store.AllRooms()
		byRoomStatus := map[domain.RoomStatus]int{}
		for _, room := range rooms {
			byRoomStatus[room.Status]++
		}

		auctions := h.store.AllAuctions()
		byAuctionStatus := map[domain.AuctionStatus]int{}
		var totalBids int
		for _, a := range auctions {
			byAuctionStatus[a.Status]++
			totalBids += a.TotalBids
		}

		var b strings.Builder
		b.WriteString("# HELP auctionhouse_users_total Registered users\n")
		b.WriteString("# TYPE auctionhouse_users_total gauge\n")
		fmt.Fprintf(&b, "auctionhouse_users_total %d\n", h.store.UserCount())

		b.WriteString("# HELP auctionhouse_sessions_online Connected sessions\n")
		b.WriteString("# TYPE auctionhouse_sessions_online gauge\n")
		fmt.Fprintf(&b, "auctionhouse_sessions_online %d\n", h.sessions.Count())

		b.WriteString("# HELP auctionhouse_rooms Rooms by status\n")
		b.WriteString("# TYPE auctionhouse_rooms gauge\n")
		for _, status := range []domain.RoomStatus{domain.RoomWaiting, domain.RoomActive, domain.RoomEnded} {
			fmt.Fprintf(&b, "auctionhouse_rooms{status=%q} %d\n", status, byRoomStatus[status])
		}

		b.WriteString("# HELP auctionhouse_auctions Auctions by status\n")
		b.WriteString("# TYPE auctionhouse_auctions gauge\n")
		for _, status := range []domain.AuctionStatus{domain.AuctionActive, domain.AuctionEnded} {
			fmt.Fprintf(&b, "auctionhouse_auctions{status=%q} %d\n", status, byAuctionStatus[status])
		}

		b.WriteString("# HELP auctionhouse_bids_total Bids placed across all auctions\n")
		b.WriteString("# TYPE auctionhouse_bids_total counter\n")
		fmt.Fprintf(&b, "auctionhouse_bids_total %d\n", totalBids)

		_, _ = w.Write([]byte(b.String()))
	}
}
