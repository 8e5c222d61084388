package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-crop/internal/catalog"
)

func openPickerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := cfg.Session.OpenStore()
		WriteJSON(w, http.StatusOK, PickerToResponse(store, cfg.Session.KeepParams()))
	}
}

// previewHandler finishes the edit of the asset that was on screen and
// switches the crop view to another asset of the selection.
func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PreviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.AssetID == "" {
			WriteError(w, http.StatusBadRequest, "asset_id is required", "BAD_REQUEST")
			return
		}

		selection, err := cfg.CatalogService.ResolveSelection(r.Context(), req.Selection)
		if err != nil {
			writeSelectionError(w, err)
			return
		}

		asset, err := cfg.CatalogService.GetAsset(r.Context(), req.AssetID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if asset == nil {
			WriteError(w, http.StatusNotFound, "asset not found", "NOT_FOUND")
			return
		}

		store := cfg.Session.Current()
		store.Preview(asset.Ref(), req.Geometry.toGeometry(), selection)
		WriteJSON(w, http.StatusOK, PickerToResponse(store, cfg.Session.KeepParams()))
	}
}

func rotateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := cfg.Session.Current()
		store.Rotate()
		WriteJSON(w, http.StatusOK, PickerToResponse(store, cfg.Session.KeepParams()))
	}
}

func cycleAspectRatioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := cfg.Session.Current()
		store.CycleAspectRatio()
		WriteJSON(w, http.StatusOK, PickerToResponse(store, cfg.Session.KeepParams()))
	}
}

func listParamsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, PickerToResponse(cfg.Session.Current(), cfg.Session.KeepParams()))
	}
}

func getParamsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, ok := cfg.Session.Current().Get(id)
		if !ok {
			WriteError(w, http.StatusNotFound, "no crop parameters for asset", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ParamsDetailResponse{
			Record:  RecordToResponse(rec),
			Filters: FiltersToResponse(rec),
		})
	}
}

func clearParamsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Session.Current().Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeSelectionError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrAssetNotFound) {
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		return
	}
	WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
}
