package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/service/catalog"
	"storefront/pkg/utils"
)

// CatalogHandler catalog read handler
type CatalogHandler struct {
	catalogService catalog.CatalogService
}

// NewCatalogHandler creates a catalog handler
func NewCatalogHandler(catalogService catalog.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// ListProducts lists products
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	products, err := h.catalogService.ListProducts(c.Request.Context())
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

// GetProduct gets a product by id
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	product, err := h.catalogService.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}
