package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"taxmailer/database"
)

// TemplateRequest is the payload for creating or updating a template.
type TemplateRequest struct {
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	IsDefault bool   `json:"is_default"`
}

func ListTemplatesHandler(templates *database.Templates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := templates.List(r.Context())
		if err != nil {
			errorResponse(w, "Failed to query templates", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []database.EmailTemplate{}
		}
		successResponse(w, "Templates retrieved", list)
	}
}

func GetTemplateHandler(templates *database.Templates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := templates.ByID(r.Context(), mux.Vars(r)["id"])
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(w, "Template not found", http.StatusNotFound)
			return
		}
		if err != nil {
			errorResponse(w, "Failed to query template", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Template retrieved", tpl)
	}
}

func CreateTemplateHandler(templates *database.Templates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TemplateRequest
		if err := decodeJSON(r, &req); err != nil {
			errorResponse(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.Subject == "" || req.Body == "" {
			errorResponse(w, "Fields 'name', 'subject', and 'body' are required", http.StatusBadRequest)
			return
		}
		tpl, err := templates.Create(r.Context(), database.EmailTemplate{
			Name:      req.Name,
			Subject:   req.Subject,
			Body:      req.Body,
			IsDefault: req.IsDefault,
		})
		if err != nil {
			errorResponse(w, "Failed to create template", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Template created", tpl)
	}
}

func UpdateTemplateHandler(templates *database.Templates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TemplateRequest
		if err := decodeJSON(r, &req); err != nil {
			errorResponse(w, "Invalid request payload", http.StatusBadRequest)
			return
		}
		if req.Name == "" || req.Subject == "" || req.Body == "" {
			errorResponse(w, "Fields 'name', 'subject', and 'body' are required", http.StatusBadRequest)
			return
		}
		err := templates.Update(r.Context(), database.EmailTemplate{
			ID:      mux.Vars(r)["id"],
			Name:    req.Name,
			Subject: req.Subject,
			Body:    req.Body,
		})
		if errors.Is(err, database.ErrNotFound) {
			errorResponse(w, "Template not found", http.StatusNotFound)
			return
		}
		if err != nil {
			errorResponse(w, "Failed to update template", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Template updated", nil)
	}
}

// DeleteTemplateHandler removes a template. Deleting the default is refused
// with 409 and the template stays in place.
func DeleteTemplateHandler(templates *database.Templates) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := templates.Delete(r.Context(), mux.Vars(r)["id"])
		switch {
		case errors.Is(err, database.ErrProtectedDefault):
			errorResponse(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, database.ErrNotFound):
			errorResponse(w, "Template not found", http.StatusNotFound)
			return
		case err != nil:
			errorResponse(w, "Failed to delete template", http.StatusInternalServerError)
			return
		}
		successResponse(w, "Template deleted", nil)
	}
}
