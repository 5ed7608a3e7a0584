package main

import "storefront/internal/app"

func main() {
	app.Main("catalog", app.RoleCatalog)
}
