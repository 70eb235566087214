package router

import (
	"context"
	"slices"

	"ai_gateway/internal/models"
	"ai_gateway/internal/providers"
)

// ModelOption is one entry of the model picker.
type ModelOption struct {
	ID      string `json:"id"`
	Display string `json:"display"`
	Kind    string `json:"kind"`
	OwnedBy string `json:"owned_by"`
}

// Available lists every identifier the caller could name explicitly right
// now: models on reachable nodes, cloud models the caller has a key for,
// and the mock.
func (r *Router) Available(ctx context.Context, userID int64, admin bool) ([]ModelOption, error) {
	var out []ModelOption

	for _, n := range r.nodes.ListCandidates("", !admin) {
		for _, m := range n.AdvertisedModels {
			out = append(out, ModelOption{
				ID:      models.NewNodeIdentifier(n.ID, m).String(),
				Display: n.Display(m),
				Kind:    models.KindSelfHosted.String(),
				OwnedBy: n.Name,
			})
		}
	}

	for _, name := range r.backends.CloudNames() {
		backend, ok := r.backends.Cloud(name)
		if !ok {
			continue
		}
		has, userDefault, err := r.creds.Has(ctx, userID, name)
		if err != nil {
			return nil, err
		}
		if !has {
			continue
		}

		names := slices.Clone(backend.Models)
		for _, extra := range []string{backend.DefaultModel, userDefault} {
			if extra != "" && !slices.Contains(names, extra) {
				names = append(names, extra)
			}
		}
		for _, m := range names {
			id := models.NewCloudIdentifier(name, m).String()
			out = append(out, ModelOption{ID: id, Display: id, Kind: models.KindCloud.String(), OwnedBy: name})
		}
	}

	if r.Config().MockEnabled {
		id := models.NewMockIdentifier(providers.MockModel).String()
		out = append(out, ModelOption{ID: id, Display: id, Kind: models.KindMock.String(), OwnedBy: models.MockPrefix})
	}

	return out, nil
}
