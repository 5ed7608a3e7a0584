package main

import "storefront/internal/app"

func main() {
	app.Main("design", app.RoleDesign)
}
