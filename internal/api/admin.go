package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lueurxax/news-aggregator/internal/core/domain"
	"github.com/lueurxax/news-aggregator/internal/output/digest"
	"github.com/lueurxax/news-aggregator/internal/schedule"
)

func (s *Server) handleProcessRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.RunFullCycle(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual cycle failed")
		s.writeError(w, http.StatusInternalServerError, "processing cycle failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"report": report,
	})
}

func (s *Server) handleSendDigest(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.SendTelegramDigest(r.Context()); err != nil {
		if errors.Is(err, digest.ErrEmptyDigest) {
			s.writeError(w, http.StatusConflict, "no content for digest")

			return
		}

		s.logger.Error().Err(err).Msg("manual digest send failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleGenerateSummaries(w http.ResponseWriter, r *http.Request) {
	date := time.Now()

	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")

			return
		}

		date = parsed
	}

	force := queryBool(r, "force_regenerate")

	if err := s.pipeline.GenerateDailySummaries(r.Context(), date, force); err != nil {
		s.logger.Error().Err(err).Msg("summary generation failed")
		s.writeError(w, http.StatusInternalServerError, "summary generation failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "generated",
		"date":   date.Format("2006-01-02"),
		"force":  force,
	})
}

type scheduleSettingDTO struct {
	TaskName     string         `json:"task_name"`
	Enabled      bool           `json:"enabled"`
	ScheduleType string         `json:"schedule_type"`
	Hour         int            `json:"hour"`
	Minute       int            `json:"minute"`
	Weekdays     []int          `json:"weekdays,omitempty"`
	Timezone     string         `json:"timezone"`
	TaskConfig   map[string]any `json:"task_config,omitempty"`
	LastRun      *time.Time     `json:"last_run,omitempty"`
	NextRun      *time.Time     `json:"next_run,omitempty"`
	IsRunning    bool           `json:"is_running"`
}

func toScheduleSettingDTO(s *domain.ScheduleSetting) scheduleSettingDTO {
	return scheduleSettingDTO{
		TaskName:     s.TaskName,
		Enabled:      s.Enabled,
		ScheduleType: s.ScheduleType,
		Hour:         s.Hour,
		Minute:       s.Minute,
		Weekdays:     s.Weekdays,
		Timezone:     s.Timezone,
		TaskConfig:   s.TaskConfig,
		LastRun:      s.LastRun,
		NextRun:      s.NextRun,
		IsRunning:    s.IsRunning,
	}
}

func (s *Server) handleScheduleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.ListScheduleSettings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("listing schedule settings failed")
		s.writeError(w, http.StatusInternalServerError, "listing schedule settings failed")

		return
	}

	out := make([]scheduleSettingDTO, 0, len(settings))
	for i := range settings {
		out = append(out, toScheduleSettingDTO(&settings[i]))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"settings": out})
}

// scheduleUpdateRequest carries the operator-editable task fields. Pointers
// distinguish "leave unchanged" from explicit zero values.
type scheduleUpdateRequest struct {
	Enabled      *bool          `json:"enabled"`
	ScheduleType *string        `json:"schedule_type"`
	Hour         *int           `json:"hour"`
	Minute       *int           `json:"minute"`
	Weekdays     []int          `json:"weekdays"`
	Timezone     *string        `json:"timezone"`
	TaskConfig   map[string]any `json:"task_config"`
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	taskName := r.PathValue("task")

	setting, err := s.db.GetScheduleSetting(r.Context(), taskName)
	if err != nil {
		s.logger.Error().Err(err).Str("task", taskName).Msg("loading schedule setting failed")
		s.writeError(w, http.StatusInternalServerError, "loading schedule setting failed")

		return
	}

	if setting == nil {
		s.writeError(w, http.StatusNotFound, "unknown task")

		return
	}

	var req scheduleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	applyScheduleUpdate(setting, &req)

	if err := validateSchedule(setting); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if setting.Enabled {
		next, err := schedule.NextRun(setting, time.Now())
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())

			return
		}

		setting.NextRun = &next
	} else {
		setting.NextRun = nil
	}

	if err := s.db.UpdateScheduleSetting(r.Context(), setting); err != nil {
		s.logger.Error().Err(err).Str("task", taskName).Msg("updating schedule setting failed")
		s.writeError(w, http.StatusInternalServerError, "updating schedule setting failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"setting": toScheduleSettingDTO(setting)})
}

func applyScheduleUpdate(setting *domain.ScheduleSetting, req *scheduleUpdateRequest) {
	if req.Enabled != nil {
		setting.Enabled = *req.Enabled
	}

	if req.ScheduleType != nil {
		setting.ScheduleType = *req.ScheduleType
	}

	if req.Hour != nil {
		setting.Hour = *req.Hour
	}

	if req.Minute != nil {
		setting.Minute = *req.Minute
	}

	if req.Weekdays != nil {
		setting.Weekdays = req.Weekdays
	}

	if req.Timezone != nil {
		setting.Timezone = *req.Timezone
	}

	if req.TaskConfig != nil {
		setting.TaskConfig = req.TaskConfig
	}
}

var (
	errBadScheduleType = errors.New("schedule_type must be daily, hourly or interval")
	errBadHour         = errors.New("hour must be 0..23")
	errBadMinute       = errors.New("minute must be 0..59")
	errBadWeekday      = errors.New("weekdays must be ISO days 1..7")
	errBadTimezone     = errors.New("unknown timezone")
)

func validateSchedule(s *domain.ScheduleSetting) error {
	switch s.ScheduleType {
	case domain.ScheduleTypeDaily, domain.ScheduleTypeHourly, domain.ScheduleTypeInterval:
	default:
		return errBadScheduleType
	}

	if s.Hour < 0 || s.Hour > 23 {
		return errBadHour
	}

	if s.Minute < 0 || s.Minute > 59 {
		return errBadMinute
	}

	for _, d := range s.Weekdays {
		if d < 1 || d > 7 {
			return errBadWeekday
		}
	}

	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return errBadTimezone
		}
	}

	return nil
}

func (s *Server) handleScheduleStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.ListScheduleSettings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("listing schedule settings failed")
		s.writeError(w, http.StatusInternalServerError, "listing schedule settings failed")

		return
	}

	type taskStatus struct {
		TaskName  string     `json:"task_name"`
		Enabled   bool       `json:"enabled"`
		IsRunning bool       `json:"is_running"`
		LastRun   *time.Time `json:"last_run,omitempty"`
		NextRun   *time.Time `json:"next_run,omitempty"`
	}

	statuses := make([]taskStatus, 0, len(settings))
	for _, st := range settings {
		statuses = append(statuses, taskStatus{
			TaskName:  st.TaskName,
			Enabled:   st.Enabled,
			IsRunning: st.IsRunning,
			LastRun:   st.LastRun,
			NextRun:   st.NextRun,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tasks": statuses,
		"now":   time.Now().UTC(),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.db.Queue.Stats())
}

func (s *Server) handleExtractorStats(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)

	stats, stableDomains, err := s.db.ExtractionStats(r.Context(), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("extraction stats failed")
		s.writeError(w, http.StatusInternalServerError, "extraction stats failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"days":           days,
		"strategies":     stats,
		"stable_domains": stableDomains,
	})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.db.ArticleTotals(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("article totals failed")
		s.writeError(w, http.StatusInternalServerError, "dashboard stats failed")

		return
	}

	days := queryInt(r, "days", 7)

	daily, sums, err := s.pipeline.ProcessingStats(r.Context(), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("processing stats failed")
		s.writeError(w, http.StatusInternalServerError, "dashboard stats failed")

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"articles":   totals,
		"processing": daily,
		"totals":     sums,
	})
}
