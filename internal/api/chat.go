package api

import (
	"net/http"

	"github.com/npezzotti/go-roomchat/internal/render"
)

// chat renders the chat screen for the handed off identity and room. The
// message list starts empty and is filled over /chat/ws.
func (a *RoomChatApp) chat(w http.ResponseWriter, r *http.Request) {
	h, err := a.handoffFromRequest(r)
	if err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	a.renderPage(w, http.StatusOK, chatPage, render.ChatPage{
		Email: h.Identity.Email,
		Room:  h.Room.Name,
		Rows:  []render.Row{},
	})
}
