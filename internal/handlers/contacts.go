package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/drowsiness-monitor/internal/db"
	"github.com/ukydev/drowsiness-monitor/internal/models"
)

// ContactHandler serves the emergency contacts of the authenticated user.
type ContactHandler struct {
	contacts db.ContactCollection
}

// NewContactHandler creates a new contact handler
func NewContactHandler(contacts db.ContactCollection) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

// List returns the caller's contacts.
func (h *ContactHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	contacts, err := h.contacts.FindContactsByUser(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).Error("Failed to list contacts")
		http.Error(w, "Failed to list contacts", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// Create adds a contact for the caller. New contacts are active unless stated otherwise.
func (h *ContactHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req models.ContactCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.Name == "" || req.PhoneNumber == "" {
		http.Error(w, "Name and phone number are required", http.StatusBadRequest)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	contact, err := h.contacts.InsertContact(r.Context(), models.EmergencyContact{
		UserID:      claims.UserID,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		IsActive:    active,
	})
	if err != nil {
		log.WithError(err).Error("Failed to create contact")
		http.Error(w, "Failed to create contact", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

// owned loads a contact and hides contacts of other users behind a 404.
func (h *ContactHandler) owned(w http.ResponseWriter, r *http.Request, userID int64) (*models.EmergencyContact, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	contact, err := h.contacts.FindContactByID(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && contact.UserID != userID) {
		http.Error(w, "Contact not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.WithError(err).Error("Failed to load contact")
		http.Error(w, "Failed to load contact", http.StatusInternalServerError)
		return nil, false
	}
	return contact, true
}

// Update changes the given fields of one of the caller's contacts.
func (h *ContactHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	contact, ok := h.owned(w, r, claims.UserID)
	if !ok {
		return
	}

	var req models.ContactUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	req.Apply(contact)

	if err := h.contacts.UpdateContact(r.Context(), *contact); err != nil {
		log.WithError(err).Error("Failed to update contact")
		http.Error(w, "Failed to update contact", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

// Delete removes one of the caller's contacts.
func (h *ContactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentUser(w, r)
	if !ok {
		return
	}
	contact, ok := h.owned(w, r, claims.UserID)
	if !ok {
		return
	}

	if err := h.contacts.DeleteContact(r.Context(), contact.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Contact not found", http.StatusNotFound)
			return
		}
		log.WithError(err).Error("Failed to delete contact")
		http.Error(w, "Failed to delete contact", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
