package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	goaway "github.com/TwiN/go-away"
	"github.com/gorilla/mux"

	wserrs "github.com/jdholdren/wishsync/internal/errors"
	"github.com/jdholdren/wishsync/internal/logger"
	"github.com/jdholdren/wishsync/internal/serverutil"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

const maxNameLength = 256

// Names end up in front of other people, so keep them short and clean.
func validateName(name string) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return wserrs.E("name is required", http.StatusUnprocessableEntity, wserrs.Detail{Field: "name", Error: "required"})
	case len(name) > maxNameLength:
		return wserrs.E("name too long", http.StatusUnprocessableEntity, wserrs.Detail{Field: "name", Error: "too long"})
	case goaway.IsProfane(name):
		return wserrs.E("profanity detected in name", http.StatusUnprocessableEntity, wserrs.Detail{Field: "name", Error: "profane"})
	}
	return nil
}

// The page must be an absolute web address the renderer can visit.
func validatePageURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return wserrs.E("url must be an absolute http(s) url", http.StatusUnprocessableEntity, wserrs.Detail{Field: "url", Error: "invalid"})
	}
	return nil
}

type WishlistResp struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	LastActivityAt *time.Time `json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

func apiWishlist(wl wishsync.Wishlist) WishlistResp {
	return WishlistResp{
		ID:             wl.ID,
		Name:           wl.Name,
		LastActivityAt: wl.LastActivityAt,
		CreatedAt:      wl.CreatedAt,
	}
}

type PostWishlistReq struct {
	Name string `json:"name"`
}

func (req PostWishlistReq) Validate() error {
	return validateName(req.Name)
}

func (s Server) postWishlist(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PostWishlistReq](r.Body)
	if err != nil {
		return err
	}

	wl, err := s.repo.InsertWishlist(r.Context(), strings.TrimSpace(body.Name))
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusCreated, apiWishlist(wl))
}

type PostConnectionReq struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

func (req PostConnectionReq) Validate() error {
	if err := validateName(req.Name); err != nil {
		return err
	}
	return validatePageURL(req.URL)
}

// Creates the connection and kicks off its first sync without waiting on it.
func (s Server) postConnection(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx        = r.Context()
		wishlistID = mux.Vars(r)["wishlistID"]
	)
	body, err := serverutil.DecodeValid[PostConnectionReq](r.Body)
	if err != nil {
		return err
	}

	if _, err := s.repo.Wishlist(ctx, wishlistID); errors.Is(err, wishsync.ErrNotFound) {
		return wserrs.E("wishlist not found", http.StatusNotFound)
	} else if err != nil {
		return err
	}

	conn, err := s.repo.InsertConnection(ctx, wishsync.InsertConnectionArgs{
		WishlistID: wishlistID,
		Name:       strings.TrimSpace(body.Name),
		URL:        strings.TrimSpace(body.URL),
		Provider:   body.Provider,
	})
	if errors.Is(err, wishsync.ErrConflict) {
		return wserrs.E("wishlist is already connected to this url", http.StatusConflict)
	}
	if err != nil {
		return err
	}

	go s.syncInBackground(ctx, conn.ID)

	return serverutil.WriteJSON(w, http.StatusCreated, apiConnection(conn))
}

func (s Server) syncInBackground(ctx context.Context, connectionID string) {
	ctx = logger.Ctx(context.WithoutCancel(ctx), slog.String("trigger", "create"))

	// The coordinator logs the outcome
	_, _ = s.syncer.Sync(ctx, connectionID)
}
