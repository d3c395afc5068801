// Package api provides the HTTP server for the wishlist app's connections:
// creating them, triggering and inspecting syncs, and previewing items.
package api

import (
	"go.uber.org/fx"
)

var Module = fx.Module("api",
	fx.Provide(
		NewServer,
	),
)
