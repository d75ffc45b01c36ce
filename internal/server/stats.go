package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Napolesllll/sst-services-sub001/internal/channels"
	"github.com/robfig/cron/v3"
)

// Stats is a point-in-time view of live membership.
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	UniqueUsers      int            `json:"uniqueUsers"`
	Roles            map[string]int `json:"roles"`
}

func (a *App) Stats() Stats {
	total, unique := a.stateManager.CountConnections()
	roles := make(map[string]int, 3)
	for _, ch := range channels.RoleChannels() {
		roles[ch] = a.stateManager.ChannelSize(ch)
	}
	return Stats{TotalConnections: total, UniqueUsers: unique, Roles: roles}
}

func (a *App) refreshGauges() Stats {
	s := a.Stats()
	a.metrics.SetConnections(s.TotalConnections, s.UniqueUsers)
	for ch, n := range s.Roles {
		a.metrics.SetChannelMembers(ch, n)
	}
	return s
}

func (a *App) reportStats() {
	s := a.refreshGauges()
	if s.TotalConnections == 0 {
		return
	}
	a.logger.Info("Connection stats",
		slog.Int("totalConnections", s.TotalConnections),
		slog.Int("uniqueUsers", s.UniqueUsers),
		slog.Int(channels.Admins, s.Roles[channels.Admins]),
		slog.Int(channels.Employees, s.Roles[channels.Employees]),
		slog.Int(channels.Clients, s.Roles[channels.Clients]),
	)
}

func (a *App) startStatsReporter() error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+a.config.Lifecycle.StatsInterval.String(), a.reportStats); err != nil {
		return err
	}
	a.stats = c
	c.Start()
	return nil
}

func (a *App) stopStatsReporter() {
	if a.stats == nil {
		return
	}
	<-a.stats.Stop().Done()
}

func (a *App) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
