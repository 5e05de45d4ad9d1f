package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// pathID parses the {id} path variable.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListProperties handles GET /api/v1/properties
func (s *Server) handleListProperties(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	properties, err := s.properties.ListProperties(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list properties")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list properties")
		return
	}
	if properties == nil {
		properties = []*models.Property{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"properties": properties})
}

// handleGetProperty handles GET /api/v1/properties/{id}
func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}

	if s.cache != nil {
		var cached models.Property
		if hit, err := s.cache.GetJSON(r.Context(), s.cache.PropertyKey(id), &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	property, err := s.properties.GetProperty(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "property not found")
			return
		}
		s.logger.WithError(err).Errorf("Failed to get property %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to get property")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), s.cache.PropertyKey(id), property); err != nil {
			s.logger.WithError(err).Debug("Failed to cache property")
		}
	}

	respondJSON(w, http.StatusOK, property)
}

// handleListHolders handles GET /api/v1/properties/{id}/holders
func (s *Server) handleListHolders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}
	limit, offset := parsePagination(r)

	holders, err := s.holders.ListHolders(r.Context(), id, limit, offset)
	if err != nil {
		s.logger.WithError(err).Errorf("Failed to list holders for property %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list holders")
		return
	}
	if holders == nil {
		holders = []*models.Holder{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"propertyId": id,
		"holders":    holders,
	})
}

// handleGetHolder handles GET /api/v1/properties/{id}/holders/{address}
func (s *Server) handleGetHolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}
	address := mux.Vars(r)["address"]
	if address == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "address is required")
		return
	}

	if s.cache != nil {
		var cached models.Holder
		if hit, err := s.cache.GetJSON(r.Context(), s.cache.HolderKey(id, address), &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	holder, err := s.holders.GetHolder(r.Context(), id, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "holder not found")
			return
		}
		s.logger.WithError(err).Errorf("Failed to get holder (%d, %s)", id, address)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to get holder")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), s.cache.HolderKey(id, address), holder); err != nil {
			s.logger.WithError(err).Debug("Failed to cache holder")
		}
	}

	respondJSON(w, http.StatusOK, holder)
}

// handleListTransfers handles GET /api/v1/properties/{id}/transfers
func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}
	limit, _ := parsePagination(r)

	transfers, err := s.records.ListTransfers(r.Context(), id, limit)
	if err != nil {
		s.logger.WithError(err).Errorf("Failed to list transfers for property %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list transfers")
		return
	}
	if transfers == nil {
		transfers = []*models.TransferRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"propertyId": id,
		"transfers":  transfers,
	})
}

// handleListDeposits handles GET /api/v1/properties/{id}/deposits
func (s *Server) handleListDeposits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}
	limit, _ := parsePagination(r)

	deposits, err := s.records.ListDeposits(r.Context(), id, limit)
	if err != nil {
		s.logger.WithError(err).Errorf("Failed to list deposits for property %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list deposits")
		return
	}
	if deposits == nil {
		deposits = []*models.DepositRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"propertyId": id,
		"deposits":   deposits,
	})
}

// handleListClaims handles GET /api/v1/properties/{id}/claims
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid property id")
		return
	}
	limit, _ := parsePagination(r)
	holder := r.URL.Query().Get("holder")

	claims, err := s.records.ListClaims(r.Context(), id, holder, limit)
	if err != nil {
		s.logger.WithError(err).Errorf("Failed to list claims for property %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list claims")
		return
	}
	if claims == nil {
		claims = []*models.ClaimRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"propertyId": id,
		"claims":     claims,
	})
}
