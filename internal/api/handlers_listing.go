package api

import (
	"errors"
	"net/http"

	"github.com/propshare/share-indexer/internal/models"
	"github.com/propshare/share-indexer/internal/storage"
	"github.com/propshare/share-indexer/internal/types"
)

// handleListListings handles GET /api/v1/listings
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	state := types.ListingState(r.URL.Query().Get("state"))
	switch state {
	case "", types.ListingActive, types.ListingCancelled, types.ListingPurchased:
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid listing state")
		return
	}

	if s.cache != nil {
		var cached []*models.Listing
		key := s.cache.ListingsKey(string(state), limit, offset)
		if hit, err := s.cache.GetJSON(r.Context(), key, &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, map[string]interface{}{"listings": cached})
			return
		}
	}

	listings, err := s.listings.ListListings(r.Context(), state, limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list listings")
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}

	if s.cache != nil {
		key := s.cache.ListingsKey(string(state), limit, offset)
		if err := s.cache.SetJSON(r.Context(), key, listings); err != nil {
			s.logger.WithError(err).Debug("Failed to cache listings")
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"listings": listings})
}

// handleGetListing handles GET /api/v1/listings/{id}
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid listing id")
		return
	}

	if s.cache != nil {
		var cached models.Listing
		if hit, err := s.cache.GetJSON(r.Context(), s.cache.ListingKey(id), &cached); err == nil && hit {
			respondJSON(w, http.StatusOK, &cached)
			return
		}
	}

	listing, err := s.listings.GetListing(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, ErrCodeNotFound, "listing not found")
			return
		}
		s.logger.WithError(err).Errorf("Failed to get listing %d", id)
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to get listing")
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(r.Context(), s.cache.ListingKey(id), listing); err != nil {
			s.logger.WithError(err).Debug("Failed to cache listing")
		}
	}

	respondJSON(w, http.StatusOK, listing)
}
