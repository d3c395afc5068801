package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	wserrs "github.com/jdholdren/wishsync/internal/errors"
	"github.com/jdholdren/wishsync/internal/serverutil"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type ConnectionResp struct {
	ID           string     `json:"id"`
	WishlistID   string     `json:"wishlist_id"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Provider     string     `json:"provider"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	SyncError    bool       `json:"sync_error"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func apiConnection(c wishsync.Connection) ConnectionResp {
	return ConnectionResp{
		ID:           c.ID,
		WishlistID:   c.WishlistID,
		Name:         c.Name,
		URL:          c.URL,
		Provider:     c.Provider,
		LastSyncedAt: c.LastSyncedAt,
		SyncError:    c.SyncError,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type ItemResp struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Notes     string    `json:"notes"`
	Price     *float64  `json:"price"`
	Currency  string    `json:"currency"`
	ImageURL  *string   `json:"image_url"`
	URL       *string   `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ItemListResp struct {
	Items []ItemResp `json:"items"`
}

type ConnectionListResp struct {
	Connections []ConnectionResp `json:"connections"`
}

func (s Server) connection(r *http.Request) (wishsync.Connection, error) {
	conn, err := s.repo.Connection(r.Context(), mux.Vars(r)["connectionID"])
	if errors.Is(err, wishsync.ErrNotFound) {
		return conn, wserrs.E("connection not found", http.StatusNotFound, wserrs.Reason(wishsync.ReasonNotFound))
	}
	return conn, err
}

func (s Server) getConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.connection(r)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiConnection(conn))
}

func (s Server) getConnectionItems(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.connection(r)
	if err != nil {
		return err
	}
	items, err := s.repo.ConnectionItems(r.Context(), conn.ID)
	if err != nil {
		return err
	}

	resp := ItemListResp{Items: []ItemResp{}}
	for _, item := range items {
		resp.Items = append(resp.Items, ItemResp{
			ID:        item.ID,
			Name:      item.Name,
			Notes:     item.Notes,
			Price:     item.Price,
			Currency:  item.Currency,
			ImageURL:  item.ImageURL,
			URL:       item.URL,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		})
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

// Runs a sync and answers once it's done.
func (s Server) postSync(w http.ResponseWriter, r *http.Request) error {
	res, err := s.syncer.Sync(r.Context(), mux.Vars(r)["connectionID"])
	if err != nil {
		return syncFailure(w, err)
	}

	return serverutil.WriteJSON(w, http.StatusOK, res)
}

func (s Server) deleteConnection(w http.ResponseWriter, r *http.Request) error {
	var deleteItems bool
	if raw := r.URL.Query().Get("delete_items"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return wserrs.E("delete_items must be a boolean", http.StatusBadRequest)
		}
		deleteItems = v
	}

	err := s.repo.DeleteConnection(r.Context(), mux.Vars(r)["connectionID"], deleteItems)
	if errors.Is(err, wishsync.ErrNotFound) {
		return wserrs.E("connection not found", http.StatusNotFound)
	}
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s Server) getErroredConnections(w http.ResponseWriter, r *http.Request) error {
	conns, err := s.repo.ErroredConnections(r.Context())
	if err != nil {
		return err
	}

	resp := ConnectionListResp{Connections: []ConnectionResp{}}
	for _, c := range conns {
		resp.Connections = append(resp.Connections, apiConnection(c))
	}

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}
