package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ddm-federation/mahiru-go/internal/apperrors"
	"github.com/ddm-federation/mahiru-go/internal/assetstore"
	"github.com/ddm-federation/mahiru-go/internal/ids"
)

// AssetHandlers exposes the asset-store contract of §6.4 over HTTP.
type AssetHandlers struct {
	Store *assetstore.Store
}

func NewAssetHandlers(store *assetstore.Store) *AssetHandlers {
	return &AssetHandlers{Store: store}
}

type retrieveResponse struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	ImageURL string `json:"image_url"`
}

// Retrieve handles GET /assets/{id}?requester=<site>. Absence and policy
// denial both surface as 404, matching the store's indistinguishability
// contract.
func (h *AssetHandlers) Retrieve(w http.ResponseWriter, r *http.Request) {
	assetID := ids.Identifier(mux.Vars(r)["id"])
	requester := ids.Identifier(r.URL.Query().Get("requester"))
	if requester == "" {
		WriteError(w, apperrors.InvalidInput("requester", "required query parameter"))
		return
	}

	asset, err := h.Store.Retrieve(assetID, requester)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, retrieveResponse{
		ID:       string(asset.ID),
		Kind:     string(asset.Kind),
		ImageURL: asset.ImagePath,
	})
}

type serveRequest struct {
	Protocol  string            `json:"protocol"`
	Params    map[string]string `json:"params"`
	Requester string            `json:"requester"`
}

type serveResponse struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// Serve handles POST /assets/{id}/serve, the streaming half of §6.4.
func (h *AssetHandlers) Serve(w http.ResponseWriter, r *http.Request) {
	assetID := ids.Identifier(mux.Vars(r)["id"])

	var req serveRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if req.Requester == "" {
		WriteError(w, apperrors.InvalidInput("requester", "required"))
		return
	}

	info, err := h.Store.Serve(assetID, assetstore.ConnectionRequest{Protocol: req.Protocol, Params: req.Params}, ids.Identifier(req.Requester))
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, serveResponse{Endpoint: info.Endpoint, Token: info.Token})
}
