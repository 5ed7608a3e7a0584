package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront/internal/middleware"
	"storefront/internal/service/design"
	"storefront/pkg/utils"
)

// DesignHandler design handler
type DesignHandler struct {
	designService design.DesignService
}

// NewDesignHandler creates a design handler
func NewDesignHandler(designService design.DesignService) *DesignHandler {
	return &DesignHandler{designService: designService}
}

// CreateDesign stores a design; the owner defaults to the token subject
func (h *DesignHandler) CreateDesign(c *gin.Context) {
	var in design.CreateDesignInput
	if err := c.ShouldBindJSON(&in); err != nil {
		utils.Error(c, utils.CodeInvalidParam, "Invalid request body")
		return
	}
	if in.UserID == "" {
		in.UserID, _ = middleware.GetUserID(c)
	}

	d, err := h.designService.CreateDesign(c.Request.Context(), in)
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}

	c.Header("Location", "/api/v1/designs/"+d.ID)
	c.JSON(http.StatusCreated, d)
}

// GetDesign gets a design by id
func (h *DesignHandler) GetDesign(c *gin.Context) {
	d, err := h.designService.GetDesign(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListDesigns lists designs
func (h *DesignHandler) ListDesigns(c *gin.Context) {
	designs, err := h.designService.ListDesigns(c.Request.Context())
	if err != nil {
		utils.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, designs)
}
