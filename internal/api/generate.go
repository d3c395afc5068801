package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/jdholdren/wishsync/internal/serverutil"
	"github.com/jdholdren/wishsync/internal/wishsync"
)

type PostGenerateReq struct {
	URL string `json:"url"`
}

func (req PostGenerateReq) Validate() error {
	return validatePageURL(req.URL)
}

type GenerateResp struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price"`
	Currency string   `json:"currency"`
	ImageURL string   `json:"image_url,omitempty"`
	URL      string   `json:"url"`
}

// Previews the item on a product page so the user can add it by hand.
// Successful previews are cached per url.
func (s Server) postGenerate(w http.ResponseWriter, r *http.Request) error {
	body, err := serverutil.DecodeValid[PostGenerateReq](r.Body)
	if err != nil {
		return err
	}
	pageURL := strings.TrimSpace(body.URL)

	candidate, ok := s.previewCache.Get(pageURL)
	if !ok {
		candidate, err = s.syncer.Generate(r.Context(), pageURL)
		if err != nil {
			return syncFailure(w, err)
		}
		s.previewCache.Add(pageURL, candidate)
	} else {
		slog.DebugContext(r.Context(), "preview cache hit", "url", pageURL)
	}

	return serverutil.WriteJSON(w, http.StatusOK, apiPreview(candidate, pageURL))
}

func apiPreview(c wishsync.Candidate, pageURL string) GenerateResp {
	resp := GenerateResp{
		Name:     c.Name,
		Price:    c.Price,
		Currency: c.Currency,
		ImageURL: c.ImageURL,
		URL:      c.URL,
	}
	// The product is the page itself unless it pointed somewhere else.
	if resp.URL == "" {
		resp.URL = pageURL
	}
	return resp
}
