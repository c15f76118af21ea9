package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-roomchat/internal/httputil"
	"github.com/npezzotti/go-roomchat/internal/render"
	"github.com/npezzotti/go-roomchat/internal/types"
)

const (
	entryPage = "entry.html.tmpl"
	chatPage  = "chat.html.tmpl"
)

type EntryRequest struct {
	Email string `validate:"required,max=254"`
	Room  string `validate:"required,max=128"`
}

func (a *RoomChatApp) entryForm(w http.ResponseWriter, r *http.Request) {
	a.renderPage(w, http.StatusOK, entryPage, render.EntryPage{})
}

// submitEntry validates the entry form and hands its values to the chat
// page. Nothing leaves the process here.
func (a *RoomChatApp) submitEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(a.log, w, httputil.NewBadRequestError(""))
		return
	}

	req := EntryRequest{
		Email: strings.TrimSpace(r.PostForm.Get("email")),
		Room:  strings.TrimSpace(r.PostForm.Get("room")),
	}

	if errs := a.validateEntry(req); len(errs) > 0 {
		a.renderPage(w, http.StatusUnprocessableEntity, entryPage, render.EntryPage{
			Email:  req.Email,
			Room:   req.Room,
			Errors: errs,
		})
		return
	}

	token, err := a.createHandoffToken(Handoff{
		Identity: types.Identity{Email: req.Email},
		Room:     types.Room{Name: req.Room},
	}, handoffTTL)
	if err != nil {
		httputil.WriteError(a.log, w, httputil.NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createHandoffCookie(token, handoffTTL))
	http.Redirect(w, r, "/chat", http.StatusSeeOther)
}

// validateEntry returns a message per invalid field, keyed by form field
// name.
func (a *RoomChatApp) validateEntry(req EntryRequest) map[string]string {
	err := a.validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		a.log.Println("validate entry:", err)
		return map[string]string{"email": "invalid form"}
	}

	errs := make(map[string]string)
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			errs[field] = field + " is required"
		case "max":
			errs[field] = field + " is too long"
		default:
			errs[field] = field + " is invalid"
		}
	}

	return errs
}

func (a *RoomChatApp) renderPage(w http.ResponseWriter, status int, page string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

	// the status is committed only once the page rendered
	var buf strings.Builder
	if err := a.templates.Render(&buf, page, data); err != nil {
		httputil.WriteError(a.log, w, httputil.NewInternalServerError(err))
		return
	}

	w.WriteHeader(status)
	w.Write([]byte(buf.String()))
}
