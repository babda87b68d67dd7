package httpserver

import (
	"embed"
	"io/fs"
)

//go:embed assets
var embeddedAssets embed.FS

//go:embed assets/index.html
var indexHTML string

// assetFS exposes the embedded static files rooted at the assets directory,
// so /assets/app.js maps to assets/app.js.
func assetFS() fs.FS {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// The subtree is compiled in; a missing root is a build defect.
		panic(err)
	}
	return sub
}
