package main

import "storefront/internal/app"

func main() {
	app.Main("gateway", app.RoleGateway)
}
