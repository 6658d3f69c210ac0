package export

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/changetrack/internal/changes"
	"github.com/rpattn/changetrack/internal/domain"
	"github.com/rpattn/changetrack/internal/i18n"
	"github.com/rpattn/changetrack/internal/repository"
)

// Handler serves change lists as XLSX downloads.
type Handler struct {
	reader *changes.Reader
	log    repository.ChangeLogRepository
	labels *i18n.Bundle
	logger *slog.Logger
}

// NewHTTPHandler creates the export handler.
func NewHTTPHandler(reader *changes.Reader, log repository.ChangeLogRepository, labels *i18n.Bundle, logger *slog.Logger) http.Handler {
	if labels == nil {
		labels = i18n.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{reader: reader, log: log, labels: labels, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	entity := strings.TrimSpace(query.Get("entity"))
	locale := query.Get("locale")
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}

	var (
		entries []domain.DisplayChangeEntry
		err     error
	)
	if rawKey := query.Get("key"); rawKey != "" && entity != "" {
		key, parseErr := domain.ParseEntityKey(rawKey)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		entries, err = h.reader.ReadBack(r.Context(), h.log, entity, key, locale)
	} else {
		entries, err = h.reader.List(r.Context(), h.log, domain.ChangeFilter{Entity: entity}, locale)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "change export failed", "entity", entity, "error", err)
		http.Error(w, "failed to read changes", http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("changes-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := WriteXLSX(w, entries, h.labels.Localizer(locale)); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to stream change export", "error", err)
	}
}
