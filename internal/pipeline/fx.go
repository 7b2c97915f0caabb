package pipeline

import (
	"go.uber.org/fx"

	"github.com/jdholdren/apod/internal/nasa"
	"github.com/jdholdren/apod/internal/store"
)

// Module wires a [Pipeline] over the NASA client and the sql store.
//
// It expects a *sqlx.DB, a [store.Config] and a [nasa.Config] to be supplied.
var Module = fx.Module("pipeline",
	fx.Provide(
		store.New,
		nasa.NewClient,
		func(repo store.Repo, client nasa.Client) Pipeline {
			return New(repo, client, repo)
		},
	),
)
