package httptransport

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	id "reliefhub/pkg/domain"
	dErrors "reliefhub/pkg/domain-errors"
	"reliefhub/pkg/platform/httputil"
)

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifications.ListNotifications(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "list notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(list))
}

func (h *Handler) handleListUnread(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifications.ListUnread(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "list unread notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(list))
}

func (h *Handler) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	list, err := h.notifications.ListBroadcasts(r.Context(), actorFrom(r.Context()))
	if err != nil {
		h.fail(w, r, "list admin notifications", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newList(list))
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), notificationID, actorFrom(r.Context())); err != nil {
		h.fail(w, r, "mark notification read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteNotification honours ?admin_override=true for administrators.
func (h *Handler) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	notificationID, err := id.ParseNotificationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	override := false
	if raw := r.URL.Query().Get("admin_override"); raw != "" {
		override, err = strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "admin_override must be a boolean"))
			return
		}
	}
	if err := h.notifications.Delete(r.Context(), notificationID, actorFrom(r.Context()), override); err != nil {
		h.fail(w, r, "delete notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
