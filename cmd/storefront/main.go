// Command storefront runs the catalog, order and design services in one
// process sharing a single event bus. Suited to the memory bus driver.
package main

import "storefront/internal/app"

func main() {
	app.Main("storefront", app.RoleCatalog, app.RoleOrder, app.RoleDesign)
}
